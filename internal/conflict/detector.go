package conflict

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// conflictNamespace seeds the name based conflict ids, so a group detected
// again on the next pass keeps its id
var conflictNamespace = uuid.MustParse("6f0e7c6a-3b8e-4c53-9a55-2d1d0f4b7a10")

// Detector finds entities of one owner that carry the same content but were
// created on different platforms
type Detector struct {
	now func() time.Time
}

func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Normalize folds case and compatibility forms and collapses whitespace
func Normalize(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// Detect returns one duplicate_content conflict per group
func (d *Detector) Detect(s models.Snapshot) []models.Conflict {
	var out []models.Conflict
	for _, id := range s.UserIDs() {
		u := s.Users[id]
		for _, kind := range []models.EntityKind{models.KindNeed, models.KindResource} {
			out = append(out, d.detectCollection(*u.Collection(kind))...)
		}
	}
	return out
}

func (d *Detector) detectCollection(entities []models.Entity) []models.Conflict {
	groups := make(map[string][]models.Entity)
	var order []string
	for _, e := range entities {
		key := Normalize(e.Description)
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	var out []models.Conflict
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 || !multipleOrigins(group) {
			continue
		}
		out = append(out, models.Conflict{
			ID:         groupID(group),
			Type:       models.ConflictDuplicateContent,
			Candidates: cloneEntities(group),
			Status:     models.ResolutionPending,
			DetectedAt: d.now(),
		})
	}
	return out
}

func multipleOrigins(group []models.Entity) bool {
	for _, e := range group[1:] {
		if e.OriginPlatform != group[0].OriginPlatform {
			return true
		}
	}
	return false
}

func groupID(group []models.Entity) string {
	guids := make([]string, len(group))
	for i, e := range group {
		guids[i] = e.GUID
	}
	slices.Sort(guids)
	return uuid.NewSHA1(conflictNamespace, []byte(strings.Join(guids, ","))).String()
}
