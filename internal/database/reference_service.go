package database

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferenceService covers enterprises, projects, sites, hardware types and
// calculated field definitions.
type ReferenceService struct {
	db *gorm.DB
}

func NewReferenceService(db *gorm.DB) *ReferenceService {
	return &ReferenceService{db: db}
}

func (s *ReferenceService) ListEnterprises(ctx context.Context, only *uuid.UUID) ([]Enterprise, error) {
	q := s.db.WithContext(ctx).Order("name")
	if only != nil {
		q = q.Where("id = ?", *only)
	}
	var out []Enterprise
	return out, q.Find(&out).Error
}

func (s *ReferenceService) CreateEnterprise(ctx context.Context, name string) (*Enterprise, error) {
	e := &Enterprise{Name: strings.TrimSpace(name)}
	if e.Name == "" {
		return nil, ErrNameRequired
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEnterpriseExists
		}
		return nil, err
	}
	return e, nil
}

func (s *ReferenceService) GetEnterprise(ctx context.Context, id uuid.UUID) (*Enterprise, error) {
	var e Enterprise
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListProjects returns projects, optionally limited to one enterprise.
func (s *ReferenceService) ListProjects(ctx context.Context, enterpriseID *uuid.UUID) ([]Project, error) {
	q := s.db.WithContext(ctx).Order("name")
	if enterpriseID != nil {
		q = q.Where("enterprise_id = ?", *enterpriseID)
	}
	var out []Project
	return out, q.Find(&out).Error
}

func (s *ReferenceService) CreateProject(ctx context.Context, enterpriseID uuid.UUID, name string) (*Project, error) {
	if _, err := s.GetEnterprise(ctx, enterpriseID); err != nil {
		return nil, err
	}
	p := &Project{EnterpriseID: enterpriseID, Name: strings.TrimSpace(name)}
	if p.Name == "" {
		return nil, ErrNameRequired
	}
	return p, s.db.WithContext(ctx).Create(p).Error
}

func (s *ReferenceService) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListSites returns sites, optionally limited to one enterprise or project.
func (s *ReferenceService) ListSites(ctx context.Context, enterpriseID, projectID *uuid.UUID) ([]Site, error) {
	q := s.db.WithContext(ctx).Model(&Site{}).Order("sites.name")
	if enterpriseID != nil {
		q = q.Joins("JOIN projects ON projects.id = sites.project_id").Where("projects.enterprise_id = ?", *enterpriseID)
	}
	if projectID != nil {
		q = q.Where("sites.project_id = ?", *projectID)
	}
	var out []Site
	return out, q.Find(&out).Error
}

func (s *ReferenceService) CreateSite(ctx context.Context, projectID uuid.UUID, name, location string) (*Site, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	site := &Site{ProjectID: projectID, Name: strings.TrimSpace(name), Location: location}
	if site.Name == "" {
		return nil, ErrNameRequired
	}
	return site, s.db.WithContext(ctx).Create(site).Error
}

func (s *ReferenceService) GetSite(ctx context.Context, id uuid.UUID) (*Site, error) {
	var site Site
	if err := s.db.WithContext(ctx).First(&site, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &site, nil
}

// SiteEnterprise resolves the enterprise owning a site.
func (s *ReferenceService) SiteEnterprise(ctx context.Context, siteID uuid.UUID) (uuid.UUID, error) {
	var p Project
	err := s.db.WithContext(ctx).Model(&Project{}).
		Joins("JOIN sites ON sites.project_id = projects.id").
		Where("sites.id = ?", siteID).
		First(&p).Error
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	return p.EnterpriseID, nil
}

func (s *ReferenceService) ListHardwareTypes(ctx context.Context) ([]HardwareType, error) {
	var out []HardwareType
	return out, s.db.WithContext(ctx).Order("name").Find(&out).Error
}

func (s *ReferenceService) ListCalculatedFields(ctx context.Context, category string) ([]CalculatedFieldDefinition, error) {
	q := s.db.WithContext(ctx).Order("category, name")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var out []CalculatedFieldDefinition
	return out, q.Find(&out).Error
}

// UnknownCalculatedFields returns the ids in ids that have no definition.
func (s *ReferenceService) UnknownCalculatedFields(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var known []string
	if err := s.db.WithContext(ctx).Model(&CalculatedFieldDefinition{}).Where("id IN ?", ids).Pluck("id", &known).Error; err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(known))
	for _, id := range known {
		have[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
