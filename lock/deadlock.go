package lock

// DeadlockDetector is the external collaborator spec.md §6 names: given
// the current waits-for graph (locker id -> ids of lockers it waits on),
// choose zero or one victim to abort per cycle found. Generalized from
// the teacher's manager/lock_manager.go goroutine-based deadlockDetection
// loop, which hard-codes both the cycle check and the victim policy;
// here the two are split so a caller can swap in a different victim
// policy (e.g. youngest-transaction, lowest-priority) without touching
// the manager.
type DeadlockDetector interface {
	// Detect scans waitsFor and returns the locker id to abort, if any
	// cycle exists.
	Detect(waitsFor map[uint32][]uint32) (victim uint32, found bool)
}

// OldestWaiterDetector aborts the locker that has been waiting longest,
// matching the teacher's findOldestWaitingTx policy. ages maps a locker
// id to an opaque "older is smaller" ordering key (here, the lock
// manager's internal wait-sequence counter).
type OldestWaiterDetector struct {
	ages func(lockerID uint32) (age uint64, waiting bool)
}

// NewOldestWaiterDetector builds a detector that asks ages for how long
// each candidate locker has been waiting and picks the oldest member of
// the first cycle found.
func NewOldestWaiterDetector(ages func(lockerID uint32) (age uint64, waiting bool)) *OldestWaiterDetector {
	return &OldestWaiterDetector{ages: ages}
}

func (d *OldestWaiterDetector) Detect(waitsFor map[uint32][]uint32) (uint32, bool) {
	visited := make(map[uint32]int) // 0=unvisited 1=in-progress 2=done
	var cycle []uint32

	var dfs func(id uint32, path []uint32) bool
	dfs = func(id uint32, path []uint32) bool {
		switch visited[id] {
		case 1:
			// id re-appears while still on the stack: path[indexOf(id):] is
			// the cycle.
			for i, p := range path {
				if p == id {
					cycle = append([]uint32{}, path[i:]...)
					return true
				}
			}
			return true
		case 2:
			return false
		}
		visited[id] = 1
		path = append(path, id)
		for _, next := range waitsFor[id] {
			if dfs(next, path) {
				return true
			}
		}
		visited[id] = 2
		return false
	}

	for id := range waitsFor {
		if visited[id] == 0 {
			if dfs(id, nil) {
				break
			}
		}
	}
	if len(cycle) == 0 {
		return 0, false
	}

	var oldestID uint32
	var oldestAge uint64
	set := false
	for _, id := range cycle {
		age, waiting := d.ages(id)
		if !waiting {
			continue
		}
		if !set || age < oldestAge {
			oldestID, oldestAge, set = id, age, true
		}
	}
	if !set {
		// Nobody in the cycle is actually recorded as waiting (can happen
		// with a stale snapshot); fall back to the cycle's first member.
		return cycle[0], true
	}
	return oldestID, true
}
