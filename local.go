package futures

import (
	"sync"

	"github.com/petermattis/goid"
)

// Per-goroutine slots for the ambient current task and the inline-execution
// depth guard. Goroutines have no native local storage, so slots are keyed by
// goroutine id; only the owning goroutine mutates its own slot.

// maxInlineDepth bounds recursive inlining of continuations and synchronous
// task execution on a single goroutine.
const maxInlineDepth = 20

type localState struct {
	current     *Task
	inlineDepth int
}

var localSlots sync.Map // goroutine id (int64) → *localState

func getLocal(create bool) (int64, *localState) {
	gid := goid.Get()
	if v, ok := localSlots.Load(gid); ok {
		return gid, v.(*localState)
	}
	if !create {
		return gid, nil
	}
	ls := &localState{}
	localSlots.Store(gid, ls)
	return gid, ls
}

// releaseLocal drops the slot once it no longer carries state, bounding map
// growth across short-lived goroutines.
func releaseLocal(gid int64, ls *localState) {
	if ls.current == nil && ls.inlineDepth == 0 {
		localSlots.Delete(gid)
	}
}

// CurrentTask returns the task executing on the calling goroutine, or nil.
func CurrentTask() *Task {
	if _, ls := getLocal(false); ls != nil {
		return ls.current
	}
	return nil
}

// setCurrentTask installs t as the calling goroutine's current task and
// returns the previous value for restoration.
func setCurrentTask(t *Task) *Task {
	gid, ls := getLocal(true)
	prev := ls.current
	ls.current = t
	if t == nil {
		releaseLocal(gid, ls)
	}
	return prev
}

// beginInline enters an inlining scope. It returns false, without entering,
// once the per-goroutine depth reaches the threshold; each true return must
// be paired with exactly one endInline.
func beginInline() bool {
	_, ls := getLocal(true)
	if ls.inlineDepth >= maxInlineDepth {
		return false
	}
	ls.inlineDepth++
	return true
}

// endInline exits an inlining scope, clamping the counter at zero.
func endInline() {
	gid, ls := getLocal(true)
	if ls.inlineDepth > 0 {
		ls.inlineDepth--
	}
	releaseLocal(gid, ls)
}
