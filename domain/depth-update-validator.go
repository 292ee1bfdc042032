package domain

import "errors"

var (
	// A delta that starts past lastAppliedSeq+1; the book can no longer be trusted and must resync.
	ErrOrderBookUpdateIsOutOfSequence = errors.New("order book update is out of sequence")
	// already covered by the book, just skip it
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

type IDepthUpdateValidator interface {
	// if return nil, the update is valid
	IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error
	IsErrOutOfSequence(err error) bool
	IsErrOutdated(err error) bool
}

// SequenceValidator checks a delta's [SequenceStart, SequenceEnd] range against the
// last applied sequence number.
type SequenceValidator struct{}

func (v *SequenceValidator) IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error {
	// Drop any event where u is <= lastUpdateId
	if update.SequenceEnd <= orderBookLastUpdId {
		return ErrOrderBookUpdateIsOutdated
	}

	if update.SequenceStart > orderBookLastUpdId+1 {
		return ErrOrderBookUpdateIsOutOfSequence
	}

	// U <= lastUpdateId+1 AND u >= lastUpdateId+1
	return nil
}

func (v *SequenceValidator) IsErrOutOfSequence(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutOfSequence)
}

func (v *SequenceValidator) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutdated)
}
