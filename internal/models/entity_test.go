package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var enabled = []Platform{"telegram", "vk", "discord"}

func TestEntity_Targets_ExcludesOrigin(t *testing.T) {
	e := Entity{OriginPlatform: "telegram"}

	assert.Equal(t, []Platform{"vk", "discord"}, e.Targets(enabled))
}

func TestEntity_DeriveStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		platforms []Platform
		attempted bool
		want      SyncStatus
	}{
		{name: "nothing attempted", want: StatusPending},
		{name: "attempted and nothing covered", attempted: true, want: StatusFailed},
		{name: "one of two covered", platforms: []Platform{"vk"}, attempted: true, want: StatusPartial},
		{name: "all covered", platforms: []Platform{"vk", "discord"}, attempted: true, want: StatusSynced},
		{name: "origin entry does not count", platforms: []Platform{"telegram"}, attempted: true, want: StatusFailed},
		{name: "disabled platform does not count", platforms: []Platform{"matrix", "vk"}, attempted: true, want: StatusPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entity{OriginPlatform: "telegram"}
			for _, p := range tt.platforms {
				e.SetPlatformRef(p, "m-"+string(p), now)
			}
			if tt.attempted {
				e.SyncAttemptedAt = now
			}
			assert.Equal(t, tt.want, e.DeriveStatus(enabled))
		})
	}
}

func TestEntity_DeriveStatus_NoTargetsIsSynced(t *testing.T) {
	e := Entity{OriginPlatform: "telegram"}

	assert.Equal(t, StatusSynced, e.DeriveStatus([]Platform{"telegram"}))
}

func TestEntity_CloneDoesNotShareMap(t *testing.T) {
	e := Entity{GUID: "1"}
	e.SetPlatformRef("vk", "a", time.Now())

	c := e.Clone()
	c.SetPlatformRef("discord", "b", time.Now())

	assert.Len(t, e.Platforms, 1)
	assert.Len(t, c.Platforms, 2)
}

func TestEntity_FieldsAreOrdered(t *testing.T) {
	e := Entity{GUID: "g", Kind: KindNeed, Description: "bread", OriginPlatform: "vk"}
	e.SetPlatformRef("telegram", "t1", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	e.SetPlatformRef("discord", "d1", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	f := e.Fields()
	require.Equal(t, "guid", f[0].Key)

	platforms, ok := f.Get("platforms")
	require.True(t, ok)
	nested := platforms.(Fields)
	require.Len(t, nested, 2)
	assert.Equal(t, "discord", nested[0].Key)
	assert.Equal(t, "telegram", nested[1].Key)
}

func TestSnapshot_FindUpdateRemove(t *testing.T) {
	s := NewSnapshot()
	s.Users["u1"] = User{ID: "u1", Needs: []Entity{{GUID: "n1"}}, Resources: []Entity{{GUID: "r1"}}}

	_, loc, ok := s.Find("r1")
	require.True(t, ok)
	assert.Equal(t, KindResource, loc.Kind)

	require.True(t, s.Update("n1", func(e *Entity) { e.Description = "milk" }))
	e, _, _ := s.Find("n1")
	assert.Equal(t, "milk", e.Description)

	removed, ok := s.Remove("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", removed.GUID)
	assert.Empty(t, s.Users["u1"].Resources)

	assert.False(t, s.Update("missing", func(*Entity) {}))
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := NewSnapshot()
	s.Users["u1"] = User{ID: "u1", Needs: []Entity{{GUID: "n1", Description: "a"}}}

	c := s.Clone()
	c.Update("n1", func(e *Entity) { e.Description = "b" })

	orig, _, _ := s.Find("n1")
	assert.Equal(t, "a", orig.Description)
}
