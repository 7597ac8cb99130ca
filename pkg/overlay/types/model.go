package types

// ConsistencyModel tags which of the two coherence strategies a node runs
// under. It replaces what the original design kept as a global enum with a
// value passed explicitly through node construction (see spec §9).
type ConsistencyModel struct {
	// Pull is false for the push model, true for the pull model.
	Pull bool

	// TTR is the time-to-refresh, in minutes, used only when Pull is true.
	TTR int
}

// Push builds the origin-initiated invalidation model.
func Push() ConsistencyModel {
	return ConsistencyModel{Pull: false}
}

// PullModel builds the replica-initiated polling model with the given
// time-to-refresh, in minutes.
func PullModel(ttrMinutes int) ConsistencyModel {
	return ConsistencyModel{Pull: true, TTR: ttrMinutes}
}

// TTLDefault is the hop budget assigned to a freshly originated query or
// invalidate message.
const TTLDefault = 10

// HistorySize is the maximum number of entries a super-peer's message
// history retains before evicting the oldest.
const HistorySize = 50

// ConsistencyCheckPeriodSeconds is the pull-model consistency checker's
// tick period.
const ConsistencyCheckPeriodSeconds = 30
