package ir

// EffectClass describes what a value observes or changes besides its result.
// Anything other than EffectPure is pinned in program order by the effect chain.
type EffectClass int

const (
	EffectPure EffectClass = iota
	EffectStorageRead
	EffectStorageWrite
	EffectMemoryRead
	EffectMemoryWrite
	EffectLog
	// EffectStaticCall runs foreign code that cannot change any state.
	EffectStaticCall
	// EffectCall runs foreign code that may write our storage or re-enter.
	EffectCall
)

func (e EffectClass) String() string {
	switch e {
	case EffectPure:
		return "pure"
	case EffectStorageRead:
		return "storage-read"
	case EffectStorageWrite:
		return "storage-write"
	case EffectMemoryRead:
		return "memory-read"
	case EffectMemoryWrite:
		return "memory-write"
	case EffectLog:
		return "log"
	case EffectStaticCall:
		return "static-call"
	case EffectCall:
		return "call"
	default:
		return "unknown"
	}
}

// ReadsStorage reports whether the effect can observe persistent storage,
// either directly or through code it runs.
func (e EffectClass) ReadsStorage() bool {
	return e == EffectStorageRead || e == EffectStaticCall || e == EffectCall
}

// WritesStorage reports whether the effect can change persistent storage.
func (e EffectClass) WritesStorage() bool {
	return e == EffectStorageWrite || e == EffectCall
}
