package linhash

// CorruptMeta reports that the meta file exists but fails a structural
// sanity check (bad magic/version, or a parameter mismatch against the
// index the caller asked to open).
type CorruptMeta struct {
	Reason string
}

func (e CorruptMeta) Error() string {
	return "linhash: corrupt meta file: " + e.Reason
}
