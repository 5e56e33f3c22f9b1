package app

import (
	"context"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

func f64(v float64) *float64 { return &v }

// SeedDemoFleet loads a small regional fleet for demo mode so the assignment
// engine has something to rank against out of the box.
func SeedDemoFleet(ctx context.Context, st store.Store) error {
	orgs := []models.Organization{
		{ID: "org-ndrf-warangal", Name: "NDRF Battalion Warangal", Type: models.OrgGovernment, Category: models.OrgCatRescue,
			Region: "Warangal", Latitude: 17.9784, Longitude: 79.5941, Capacity: 10, Status: models.StatusActive},
		{ID: "org-redcross-wgl", Name: "Red Cross Warangal Chapter", Type: models.OrgNGO, Category: models.OrgCatMedical,
			Region: "Warangal", Latitude: 17.9605, Longitude: 79.5802, Capacity: 8, Status: models.StatusActive},
		{ID: "org-vol-riseup", Name: "RiseUp Volunteer Network", Type: models.OrgVolunteerGroup, Category: models.OrgCatRelief,
			Region: "Warangal", Latitude: 17.9920, Longitude: 79.6010, Capacity: 15, Status: models.StatusActive},
	}
	for i := range orgs {
		if err := st.CreateOrganization(ctx, &orgs[i]); err != nil {
			return err
		}
	}

	divisions := []models.Division{
		{ID: "div-ndrf-rescue", OrgID: "org-ndrf-warangal", Type: models.DivRescue,
			Skills: []string{"search-and-rescue", "swift-water-rescue", "boat-operations"}, Capacity: 6, Status: models.StatusActive},
		{ID: "div-ndrf-comm", OrgID: "org-ndrf-warangal", Type: models.DivCommunication,
			Skills: []string{"radio-operations"}, Capacity: 4, Status: models.StatusActive},
		{ID: "div-rc-medical", OrgID: "org-redcross-wgl", Type: models.DivMedical,
			Skills: []string{"emergency-medicine", "triage", "first-aid"}, Capacity: 5, Status: models.StatusActive},
		{ID: "div-vol-logistics", OrgID: "org-vol-riseup", Type: models.DivLogistics,
			Skills: []string{"supply-distribution", "shelter-management"}, Capacity: 10, Status: models.StatusActive},
	}
	for i := range divisions {
		if err := st.CreateDivision(ctx, &divisions[i]); err != nil {
			return err
		}
	}

	staff := []models.Staff{
		{ID: "staff-arjun", OrgID: "org-ndrf-warangal", DivisionID: "div-ndrf-rescue", Name: "Arjun Reddy",
			Role: models.RoleSpecialist, Skills: []string{"swift-water-rescue", "first-aid"},
			Availability: models.StaffAvailable, Latitude: f64(17.9750), Longitude: f64(79.5900), Status: models.StatusActive},
		{ID: "staff-meena", OrgID: "org-ndrf-warangal", DivisionID: "div-ndrf-rescue", Name: "Meena Joshi",
			Role: models.RoleWorker, Skills: []string{"search-and-rescue", "boat-operations"},
			Availability: models.StaffAvailable, Status: models.StatusActive},
		{ID: "staff-kiran", OrgID: "org-redcross-wgl", DivisionID: "div-rc-medical", Name: "Kiran Rao",
			Role: models.RoleSpecialist, Skills: []string{"emergency-medicine", "triage"},
			Availability: models.StaffAvailable, Latitude: f64(17.9610), Longitude: f64(79.5810), Status: models.StatusActive},
		{ID: "staff-lata", OrgID: "org-vol-riseup", DivisionID: "div-vol-logistics", Name: "Lata Verma",
			Role: models.RoleVolunteer, Skills: []string{"supply-distribution"},
			Availability: models.StaffAvailable, Status: models.StatusActive},
	}
	for i := range staff {
		if err := st.CreateStaff(ctx, &staff[i]); err != nil {
			return err
		}
	}

	facilities := []models.Facility{
		{ID: "fac-shelter-fortgrounds", Name: "Fort Grounds Relief Shelter", Type: models.FacilityShelter,
			Latitude: 17.9570, Longitude: 79.6005, Capacity: 400, Occupancy: 120},
		{ID: "fac-mgm-hospital", Name: "MGM Hospital Warangal", Type: models.FacilityHospital,
			Latitude: 17.9833, Longitude: 79.5300, Capacity: 600, Occupancy: 480, BedsAvailable: 120, ICUBeds: 18},
	}
	for i := range facilities {
		if err := st.CreateFacility(ctx, &facilities[i]); err != nil {
			return err
		}
	}
	return nil
}
