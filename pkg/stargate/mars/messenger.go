package mars

import "github.com/ZentaChain/zentalk-stargate/pkg/stargate"

// messenger carries one send through the multiplexer: it supplies the
// request body and routes the response and the task end to the delegate.
type messenger struct {
	data     []byte
	delegate stargate.Delegate
}

// PushObserver receives pushes for the command ids it is registered for
type PushObserver interface {
	NotifyPush(cmdID uint32, data []byte)
}

// PushObserverFunc adapts a function to PushObserver
type PushObserverFunc func(cmdID uint32, data []byte)

func (f PushObserverFunc) NotifyPush(cmdID uint32, data []byte) { f(cmdID, data) }

// delegatePush hands pushes to a delegate as received data
type delegatePush struct {
	star     stargate.Star
	delegate stargate.Delegate
}

func (p delegatePush) NotifyPush(_ uint32, data []byte) {
	p.delegate.OnReceive(data, p.star)
}
