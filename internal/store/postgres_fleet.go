package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

func (p *Postgres) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO organizations
		(id, name, type, category, region, latitude, longitude, capacity, current_load, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		org.ID, org.Name, org.Type, org.Category, org.Region, org.Latitude, org.Longitude,
		org.Capacity, org.CurrentLoad, org.Status)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "organization %s already exists", org.ID)
	}
	return err
}

func (p *Postgres) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, name, type, category, region, latitude, longitude,
		capacity, current_load, status FROM organizations WHERE id=$1`, id)
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Type, &o.Category, &o.Region, &o.Latitude, &o.Longitude,
		&o.Capacity, &o.CurrentLoad, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "organization %s not found", id)
	}
	return &o, err
}

func (p *Postgres) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, type, category, region, latitude, longitude,
		capacity, current_load, status FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.Category, &o.Region, &o.Latitude, &o.Longitude,
			&o.Capacity, &o.CurrentLoad, &o.Status); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	tag, err := p.pool.Exec(ctx, `UPDATE organizations SET
		name=$2, type=$3, category=$4, region=$5, latitude=$6, longitude=$7,
		capacity=$8, current_load=$9, status=$10 WHERE id=$1`,
		org.ID, org.Name, org.Type, org.Category, org.Region, org.Latitude, org.Longitude,
		org.Capacity, org.CurrentLoad, org.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "organization %s not found", org.ID)
	}
	return nil
}

func (p *Postgres) DeleteOrganization(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM organizations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "organization %s not found", id)
	}
	return nil
}

func (p *Postgres) CreateDivision(ctx context.Context, d *models.Division) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO divisions
		(id, org_id, type, description, skills, capacity, current_load, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.OrgID, d.Type, d.Description, d.Skills, d.Capacity, d.CurrentLoad, d.Status)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "division %s already exists", d.ID)
	}
	return err
}

func (p *Postgres) GetDivision(ctx context.Context, id string) (*models.Division, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, org_id, type, description, skills,
		capacity, current_load, status FROM divisions WHERE id=$1`, id)
	var d models.Division
	err := row.Scan(&d.ID, &d.OrgID, &d.Type, &d.Description, &d.Skills,
		&d.Capacity, &d.CurrentLoad, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "division %s not found", id)
	}
	return &d, err
}

func (p *Postgres) ListDivisions(ctx context.Context) ([]models.Division, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, org_id, type, description, skills,
		capacity, current_load, status FROM divisions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Division
	for rows.Next() {
		var d models.Division
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Type, &d.Description, &d.Skills,
			&d.Capacity, &d.CurrentLoad, &d.Status); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateDivision(ctx context.Context, d *models.Division) error {
	tag, err := p.pool.Exec(ctx, `UPDATE divisions SET
		org_id=$2, type=$3, description=$4, skills=$5, capacity=$6, current_load=$7, status=$8
		WHERE id=$1`,
		d.ID, d.OrgID, d.Type, d.Description, d.Skills, d.Capacity, d.CurrentLoad, d.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "division %s not found", d.ID)
	}
	return nil
}

func (p *Postgres) DeleteDivision(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM divisions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "division %s not found", id)
	}
	return nil
}

func (p *Postgres) CreateStaff(ctx context.Context, s *models.Staff) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO staff
		(id, org_id, division_id, name, role, skills, phone, email, availability, latitude, longitude, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.OrgID, textOrNil(s.DivisionID), s.Name, s.Role, s.Skills,
		s.Phone, s.Email, s.Availability, s.Latitude, s.Longitude, s.Status)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "staff %s already exists", s.ID)
	}
	return err
}

func (p *Postgres) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, org_id, division_id, name, role, skills,
		phone, email, availability, latitude, longitude, status FROM staff WHERE id=$1`, id)
	var (
		s     models.Staff
		divID *string
	)
	err := row.Scan(&s.ID, &s.OrgID, &divID, &s.Name, &s.Role, &s.Skills,
		&s.Phone, &s.Email, &s.Availability, &s.Latitude, &s.Longitude, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "staff %s not found", id)
	}
	s.DivisionID = deref(divID)
	return &s, err
}

func (p *Postgres) ListStaff(ctx context.Context) ([]models.Staff, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, org_id, division_id, name, role, skills,
		phone, email, availability, latitude, longitude, status FROM staff ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Staff
	for rows.Next() {
		var (
			s     models.Staff
			divID *string
		)
		if err := rows.Scan(&s.ID, &s.OrgID, &divID, &s.Name, &s.Role, &s.Skills,
			&s.Phone, &s.Email, &s.Availability, &s.Latitude, &s.Longitude, &s.Status); err != nil {
			return nil, err
		}
		s.DivisionID = deref(divID)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStaff(ctx context.Context, s *models.Staff) error {
	tag, err := p.pool.Exec(ctx, `UPDATE staff SET
		org_id=$2, division_id=$3, name=$4, role=$5, skills=$6, phone=$7, email=$8,
		availability=$9, latitude=$10, longitude=$11, status=$12 WHERE id=$1`,
		s.ID, s.OrgID, textOrNil(s.DivisionID), s.Name, s.Role, s.Skills, s.Phone, s.Email,
		s.Availability, s.Latitude, s.Longitude, s.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "staff %s not found", s.ID)
	}
	return nil
}

func (p *Postgres) DeleteStaff(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM staff WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "staff %s not found", id)
	}
	return nil
}

func (p *Postgres) ListFacilities(ctx context.Context) ([]models.Facility, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, type, latitude, longitude,
		capacity, occupancy, beds_available, icu_beds FROM facilities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Facility
	for rows.Next() {
		var f models.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Latitude, &f.Longitude,
			&f.Capacity, &f.Occupancy, &f.BedsAvailable, &f.ICUBeds); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateFacility(ctx context.Context, f *models.Facility) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO facilities
		(id, name, type, latitude, longitude, capacity, occupancy, beds_available, icu_beds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		f.ID, f.Name, f.Type, f.Latitude, f.Longitude, f.Capacity, f.Occupancy, f.BedsAvailable, f.ICUBeds)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "facility %s already exists", f.ID)
	}
	return err
}
