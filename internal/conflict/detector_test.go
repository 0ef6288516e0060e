package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "need water", Normalize("  Need\tWATER "))
	// fullwidth letters fold to ascii under NFKC
	assert.Equal(t, Normalize("water"), Normalize("ｗａｔｅｒ"))
	assert.Equal(t, Normalize("strasse"), Normalize("STRASSE"))
}

func TestDetector_GroupsAcrossPlatforms(t *testing.T) {
	s := models.NewSnapshot()
	s.Users["u1"] = models.User{ID: "u1", Needs: []models.Entity{
		{GUID: "1", Description: "Need water", OriginPlatform: "telegram"},
		{GUID: "2", Description: "need  WATER", OriginPlatform: "vk"},
		{GUID: "3", Description: "Need bread", OriginPlatform: "vk"},
	}}
	s.Users["u2"] = models.User{ID: "u2", Needs: []models.Entity{
		{GUID: "4", Description: "Need water", OriginPlatform: "discord"},
	}}

	got := NewDetector().Detect(s)

	require.Len(t, got, 1)
	assert.Equal(t, models.ConflictDuplicateContent, got[0].Type)
	assert.Equal(t, models.ResolutionPending, got[0].Status)
	require.Len(t, got[0].Candidates, 2)
	assert.Equal(t, "1", got[0].Candidates[0].GUID)
	assert.Equal(t, "2", got[0].Candidates[1].GUID)
}

func TestDetector_SameOriginIsNotAConflict(t *testing.T) {
	s := models.NewSnapshot()
	s.Users["u1"] = models.User{ID: "u1", Resources: []models.Entity{
		{GUID: "1", Description: "Tent", OriginPlatform: "vk"},
		{GUID: "2", Description: "tent", OriginPlatform: "vk"},
	}}

	assert.Empty(t, NewDetector().Detect(s))
}

func TestDetector_StableIDs(t *testing.T) {
	s := models.NewSnapshot()
	s.Users["u1"] = models.User{ID: "u1", Needs: []models.Entity{
		{GUID: "1", Description: "Need water", OriginPlatform: "telegram"},
		{GUID: "2", Description: "Need water", OriginPlatform: "vk"},
	}}

	a := NewDetector().Detect(s)
	b := NewDetector().Detect(s)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}
