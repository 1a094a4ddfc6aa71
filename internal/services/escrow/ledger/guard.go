package ledger

import "context"

type frameKey struct{}

// frame marks an instance whose mutating operation is in progress on the
// current call path.
type frame struct {
	instance *Instance
	parent   *frame
}

func (i *Instance) enter(ctx context.Context) context.Context {
	parent, _ := ctx.Value(frameKey{}).(*frame)
	return context.WithValue(ctx, frameKey{}, &frame{instance: i, parent: parent})
}

// entered reports whether ctx was derived inside one of i's own operations,
// which is only possible through a transfer callback.
func (i *Instance) entered(ctx context.Context) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.instance == i {
			return true
		}
	}
	return false
}
