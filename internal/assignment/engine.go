// Package assignment ranks (org, division, staff) triplets for a triaged
// incident over an immutable fleet snapshot. The engine is pure: no mutation,
// no I/O, deterministic ordering.
package assignment

import (
	"sort"
	"strings"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// Score weights per level.
const (
	orgWeight      = 0.5
	divisionWeight = 0.3
	staffWeight    = 0.2

	distanceHorizonKm = 100.0
)

// Breakdown explains one candidate's score for observability.
type Breakdown struct {
	OrgDistanceFit   float64 `json:"orgDistanceFit"`
	OrgTypeMatch     float64 `json:"orgTypeMatch"`
	OrgCategoryMatch float64 `json:"orgCategoryMatch"`
	OrgHeadroom      float64 `json:"orgHeadroom"`
	OrgScore         float64 `json:"orgScore"`

	DivisionTypeMatch    float64 `json:"divisionTypeMatch"`
	DivisionHeadroom     float64 `json:"divisionHeadroom"`
	DivisionSkillOverlap float64 `json:"divisionSkillOverlap"`
	DivisionScore        float64 `json:"divisionScore"`

	StaffAvailability float64 `json:"staffAvailability"`
	StaffSkillOverlap float64 `json:"staffSkillOverlap"`
	StaffDistanceFit  float64 `json:"staffDistanceFit"`
	StaffScore        float64 `json:"staffScore"`

	Overflow bool `json:"overflow,omitempty"`
}

// Candidate is one ranked triplet.
type Candidate struct {
	Org       models.Organization `json:"org"`
	Division  *models.Division    `json:"division,omitempty"`
	Staff     *models.Staff       `json:"staff,omitempty"`
	Score     float64             `json:"score"`
	Breakdown Breakdown           `json:"breakdown"`
}

// Input is the incident context the engine ranks against.
type Input struct {
	Category             string
	Priority             int
	RequiredDivisionType models.DivisionType
	RequiredSkills       []string
	Latitude             float64
	Longitude            float64
	// ExcludedOrgIDs removes orgs from consideration, e.g. during the
	// post-reject cooldown.
	ExcludedOrgIDs map[string]bool
}

// compatibleOrgTypes is the category policy table: which organisation types
// may take which incident categories.
var compatibleOrgTypes = map[string][]models.OrgType{
	"Flood Rescue":      {models.OrgGovernment, models.OrgNGO, models.OrgVolunteerGroup},
	"Fire Response":     {models.OrgGovernment},
	"Medical Emergency": {models.OrgGovernment, models.OrgNGO, models.OrgPrivate},
	"Rescue":            {models.OrgGovernment, models.OrgNGO, models.OrgVolunteerGroup},
	"Relief":            {models.OrgNGO, models.OrgVolunteerGroup, models.OrgPrivate},
}

// canonicalOrgCategory maps a triage category to the organisation category
// that primarily serves it.
var canonicalOrgCategory = map[string]models.OrgCategory{
	"Flood Rescue":       models.OrgCatRescue,
	"Fire Response":      models.OrgCatEmergencyResponse,
	"Medical Emergency":  models.OrgCatMedical,
	"Rescue":             models.OrgCatRescue,
	"Relief":             models.OrgCatRelief,
	"General Assistance": models.OrgCatEmergencyResponse,
}

func orgTypeCompatible(category string, t models.OrgType) bool {
	allowed, ok := compatibleOrgTypes[category]
	if !ok {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func headroomScore(load, capacity int, max float64) float64 {
	denom := capacity
	if denom < 1 {
		denom = 1
	}
	frac := 1 - float64(load)/float64(denom)
	if frac < 0 {
		frac = 0
	}
	return max * frac
}

func distanceScore(km, max float64) float64 {
	frac := 1 - km/distanceHorizonKm
	if frac < 0 {
		frac = 0
	}
	return max * frac
}

func skillOverlap(required, have []string, max float64) float64 {
	if len(required) == 0 {
		return 0
	}
	haveSet := map[string]bool{}
	for _, s := range have {
		haveSet[strings.ToLower(s)] = true
	}
	hits := 0
	for _, r := range required {
		if haveSet[strings.ToLower(r)] {
			hits++
		}
	}
	return max * float64(hits) / float64(len(required))
}

func scoreOrg(in Input, org models.Organization) (float64, Breakdown) {
	var b Breakdown
	b.OrgDistanceFit = distanceScore(HaversineKm(org.Latitude, org.Longitude, in.Latitude, in.Longitude), 30)
	if orgTypeCompatible(in.Category, org.Type) {
		b.OrgTypeMatch = 20
	}
	if canonical, ok := canonicalOrgCategory[in.Category]; ok && org.Category == canonical {
		b.OrgCategoryMatch = 20
	}
	b.OrgHeadroom = headroomScore(org.CurrentLoad, org.Capacity, 30)
	b.OrgScore = b.OrgDistanceFit + b.OrgTypeMatch + b.OrgCategoryMatch + b.OrgHeadroom
	return b.OrgScore, b
}

func scoreDivision(in Input, div models.Division) (float64, float64, float64) {
	typeMatch := 0.0
	if div.Type == in.RequiredDivisionType {
		typeMatch = 50
	}
	headroom := headroomScore(div.CurrentLoad, div.Capacity, 30)
	overlap := skillOverlap(in.RequiredSkills, div.Skills, 20)
	return typeMatch, headroom, overlap
}

func scoreStaff(in Input, st models.Staff) (availability, overlap, distance float64) {
	hasLocation := st.Latitude != nil && st.Longitude != nil
	switch {
	case st.Availability == models.StaffAvailable:
		availability = 40
	case !hasLocation && st.Status == models.StatusActive:
		availability = 20
	}
	overlap = skillOverlap(in.RequiredSkills, st.Skills, 40)
	if hasLocation {
		distance = distanceScore(HaversineKm(*st.Latitude, *st.Longitude, in.Latitude, in.Longitude), 20)
	}
	return availability, overlap, distance
}

// Rank scores every eligible organisation against the incident and returns a
// stable ranking, best first. Full-capacity orgs are excluded unless no org
// has headroom, in which case all of them are returned with the overflow flag
// set, lowest load-to-capacity ratio first.
func Rank(in Input, snap *store.FleetSnapshot) []Candidate {
	divisionsByOrg := map[string][]models.Division{}
	for _, d := range snap.Divisions {
		if d.Status == models.StatusInactive {
			continue
		}
		divisionsByOrg[d.OrgID] = append(divisionsByOrg[d.OrgID], d)
	}
	staffByOrg := map[string][]models.Staff{}
	for _, s := range snap.Staff {
		if s.Status == models.StatusInactive {
			continue
		}
		// A Busy or Off-duty staff member is never a candidate.
		if s.Availability == models.StaffBusy || s.Availability == models.StaffOffDuty {
			continue
		}
		staffByOrg[s.OrgID] = append(staffByOrg[s.OrgID], s)
	}

	var withHeadroom, atCapacity []Candidate
	for _, org := range snap.Organizations {
		if org.Status == models.StatusInactive {
			continue
		}
		if in.ExcludedOrgIDs[org.ID] {
			continue
		}

		orgScore, breakdown := scoreOrg(in, org)

		var bestDiv *models.Division
		for i := range divisionsByOrg[org.ID] {
			div := divisionsByOrg[org.ID][i]
			typeMatch, headroom, overlap := scoreDivision(in, div)
			score := typeMatch + headroom + overlap
			if bestDiv == nil || score > breakdown.DivisionScore ||
				(score == breakdown.DivisionScore && div.ID < bestDiv.ID) {
				d := div
				bestDiv = &d
				breakdown.DivisionTypeMatch = typeMatch
				breakdown.DivisionHeadroom = headroom
				breakdown.DivisionSkillOverlap = overlap
				breakdown.DivisionScore = score
			}
		}

		var bestStaff *models.Staff
		for i := range staffByOrg[org.ID] {
			st := staffByOrg[org.ID][i]
			availability, overlap, distance := scoreStaff(in, st)
			score := availability + overlap + distance
			if bestStaff == nil || score > breakdown.StaffScore ||
				(score == breakdown.StaffScore && st.ID < bestStaff.ID) {
				s := st
				bestStaff = &s
				breakdown.StaffAvailability = availability
				breakdown.StaffSkillOverlap = overlap
				breakdown.StaffDistanceFit = distance
				breakdown.StaffScore = score
			}
		}

		total := orgWeight*orgScore + divisionWeight*breakdown.DivisionScore + staffWeight*breakdown.StaffScore
		cand := Candidate{
			Org:       org,
			Division:  bestDiv,
			Staff:     bestStaff,
			Score:     total,
			Breakdown: breakdown,
		}
		if org.Capacity > 0 && org.CurrentLoad >= org.Capacity {
			atCapacity = append(atCapacity, cand)
		} else {
			withHeadroom = append(withHeadroom, cand)
		}
	}

	ranked := withHeadroom
	overflow := len(ranked) == 0
	if overflow {
		for i := range atCapacity {
			atCapacity[i].Breakdown.Overflow = true
		}
		ranked = atCapacity
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if overflow {
			// At-capacity orgs all have Capacity > 0: least-overloaded first.
			ra := float64(a.Org.CurrentLoad) / float64(a.Org.Capacity)
			rb := float64(b.Org.CurrentLoad) / float64(b.Org.Capacity)
			if ra != rb {
				return ra < rb
			}
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Breakdown.OrgHeadroom != b.Breakdown.OrgHeadroom {
			return a.Breakdown.OrgHeadroom > b.Breakdown.OrgHeadroom
		}
		if a.Breakdown.OrgDistanceFit != b.Breakdown.OrgDistanceFit {
			return a.Breakdown.OrgDistanceFit > b.Breakdown.OrgDistanceFit
		}
		return a.Org.ID < b.Org.ID
	})
	return ranked
}

// Assignment converts a candidate to the triplet persisted on the incident.
func (c Candidate) Assignment() models.Assignment {
	a := models.Assignment{OrgID: c.Org.ID}
	if c.Division != nil {
		a.DivisionID = c.Division.ID
	}
	if c.Staff != nil {
		a.StaffID = c.Staff.ID
	}
	return a
}
