package crawl

// DedupIndex tracks fingerprints already accepted for one session. It is
// seeded from the store when the session starts and grown in memory as the
// run accepts records, so candidates within a run never hit storage again.
//
// One index belongs to exactly one session and is only touched from that
// session's keyword loop, so no locking is needed; concurrent sessions each
// hold their own index.
type DedupIndex struct {
	global bool
	seen   map[string]struct{}
}

// NewDedupIndex builds an empty index. With global set, fingerprints collide
// across keywords and sessions instead of per (keyword, fingerprint).
func NewDedupIndex(global bool) *DedupIndex {
	return &DedupIndex{
		global: global,
		seen:   make(map[string]struct{}),
	}
}

// SeedSession loads the dedup keys already persisted for this session.
func (i *DedupIndex) SeedSession(keys map[FingerprintKey]struct{}) {
	for key := range keys {
		i.seen[i.key(key.Keyword, key.Fingerprint)] = struct{}{}
	}
}

// SeedGlobal loads fingerprints from all sessions; only meaningful when the
// index was built with global scope.
func (i *DedupIndex) SeedGlobal(fingerprints map[string]struct{}) {
	if !i.global {
		return
	}
	for fp := range fingerprints {
		i.seen[fp] = struct{}{}
	}
}

// Seen reports whether the fingerprint was already accepted.
func (i *DedupIndex) Seen(keyword, fingerprint string) bool {
	_, ok := i.seen[i.key(keyword, fingerprint)]
	return ok
}

// Mark records a fingerprint as accepted.
func (i *DedupIndex) Mark(keyword, fingerprint string) {
	i.seen[i.key(keyword, fingerprint)] = struct{}{}
}

// MarkIfNew marks the fingerprint and returns true when it was not seen
// before.
func (i *DedupIndex) MarkIfNew(keyword, fingerprint string) bool {
	if i.Seen(keyword, fingerprint) {
		return false
	}
	i.Mark(keyword, fingerprint)
	return true
}

func (i *DedupIndex) key(keyword, fingerprint string) string {
	if i.global {
		return fingerprint
	}
	return keyword + "\x1f" + fingerprint
}
