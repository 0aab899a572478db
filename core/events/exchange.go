package events

const (
	KindExchangeStarted   Kind = "exchange.started"
	KindExchangeCompleted Kind = "exchange.completed"
	KindExchangeFailed    Kind = "exchange.failed"
	KindExchangeCancelled Kind = "exchange.cancelled"
)

// ExchangeMode tells which backend round trip an exchange uses.
type ExchangeMode string

const (
	ExchangeModeText  ExchangeMode = "text"
	ExchangeModeAudio ExchangeMode = "audio"
)

type ExchangeStarted struct {
	Base
	Mode ExchangeMode
}

func NewExchangeStarted(mode ExchangeMode) ExchangeStarted {
	return ExchangeStarted{Base: NewBase(KindExchangeStarted), Mode: mode}
}

type ExchangeCompleted struct {
	Base
	Mode     ExchangeMode
	HasAudio bool
}

func NewExchangeCompleted(mode ExchangeMode, hasAudio bool) ExchangeCompleted {
	return ExchangeCompleted{Base: NewBase(KindExchangeCompleted), Mode: mode, HasAudio: hasAudio}
}

type ExchangeFailed struct {
	Base
	Mode ExchangeMode
	Err  error
}

func NewExchangeFailed(mode ExchangeMode, err error) ExchangeFailed {
	return ExchangeFailed{Base: NewBase(KindExchangeFailed), Mode: mode, Err: err}
}

type ExchangeCancelled struct {
	Base
	Mode ExchangeMode
}

func NewExchangeCancelled(mode ExchangeMode) ExchangeCancelled {
	return ExchangeCancelled{Base: NewBase(KindExchangeCancelled), Mode: mode}
}
