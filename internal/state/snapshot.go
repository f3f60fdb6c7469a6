package state

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
)

// Snapshot is the serialized form of State: sets become sorted lists.
type Snapshot struct {
	Cutoff               time.Time                `json:"cutoff"`
	LastDirectoryRefresh time.Time                `json:"last_directory_refresh"`
	MemberCache          map[string]github.Member `json:"member_cache"`
	Replied              []ReplyRecord            `json:"replied"`
	Pending              []PendingReview          `json:"pending"`
	DirectoryUsers       []bonusly.User           `json:"directory_users"`
	Hashtags             []string                 `json:"hashtags"`
}

// Snapshot returns a deep copy of s in serializable form.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Cutoff:               s.Cutoff,
		LastDirectoryRefresh: s.LastDirectoryRefresh,
		Replied:              s.RepliedRecords(),
		Pending:              s.PendingReviews(),
		DirectoryUsers:       slices.Clone(s.DirectoryUsers),
		MemberCache:          maps.Clone(s.MemberCache),
		Hashtags:             slices.Clone(s.Hashtags),
	}
}

// FromSnapshot rebuilds a State. Pending entries whose pair was already rewarded
// are dropped so the two sets stay disjoint.
func FromSnapshot(snap Snapshot) *State {
	st := New(snap.Cutoff)
	st.LastDirectoryRefresh = normalize(snap.LastDirectoryRefresh)
	st.DirectoryUsers = slices.Clone(snap.DirectoryUsers)
	st.Hashtags = slices.Clone(snap.Hashtags)
	for login, m := range snap.MemberCache {
		st.MemberCache[login] = m
	}
	for _, r := range snap.Replied {
		st.Replied[r] = struct{}{}
	}
	for _, p := range snap.Pending {
		st.AddPending(p)
	}
	return st
}

// MarshalJSON encodes the state as its Snapshot.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON decodes a Snapshot into s.
func (s *State) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	*s = *FromSnapshot(snap)
	return nil
}
