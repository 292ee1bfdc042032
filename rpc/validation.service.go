package rpc

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-mirror/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type ProviderRegistry interface {
	IsSupportedProvider(provider string) bool
}

type ValidationService struct {
	providers ProviderRegistry
}

func NewValidationService(providers ProviderRegistry) *ValidationService {
	return &ValidationService{
		providers: providers,
	}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	return s.providers.IsSupportedProvider(provider)
}

// Selection validates the provider and market fields of a request.
func (s *ValidationService) Selection(in *structpb.Struct) (string, *domain.MarketSymbol, error) {
	provider := stringField(in, "provider")
	if !s.IsSupportedProvider(provider) {
		return "", nil, status.Errorf(codes.InvalidArgument, "provider %s is not supported", provider)
	}

	market := stringField(in, "market")
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return "", nil, status.Errorf(codes.InvalidArgument, "invalid market symbol %s. Correct market symbol should use _ as a separator", market)
	}
	return provider, symbol, nil
}

// Quote validates the provider and quote fields of a listing request.
func (s *ValidationService) Quote(in *structpb.Struct) (string, string, error) {
	provider := stringField(in, "provider")
	if !s.IsSupportedProvider(provider) {
		return "", "", status.Errorf(codes.InvalidArgument, "provider %s is not supported", provider)
	}
	quote := strings.ToUpper(strings.TrimSpace(stringField(in, "quote")))
	if quote == "" {
		return "", "", status.Error(codes.InvalidArgument, "quote is required")
	}
	return provider, quote, nil
}

// Tick returns the optional tick field. ok is false when absent.
func (s *ValidationService) Tick(in *structpb.Struct) (decimal.Decimal, bool, error) {
	raw := stringField(in, "tick")
	if raw == "" {
		return decimal.Zero, false, nil
	}
	tick, err := decimal.NewFromString(raw)
	if err != nil || tick.IsNegative() {
		return decimal.Zero, false, status.Errorf(codes.InvalidArgument, "invalid tick %q", raw)
	}
	return tick, true, nil
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	v, ok := in.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
