package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TemplateService manages controller templates
type TemplateService struct {
	db *gorm.DB
}

func NewTemplateService(db *gorm.DB) *TemplateService {
	return &TemplateService{db: db}
}

// TemplateInput is the editable part of a template.
type TemplateInput struct {
	Name             string
	Description      string
	Scope            string
	EnterpriseID     *uuid.UUID
	HardwareTypeID   string
	Registers        datatypes.JSON
	CalculatedFields datatypes.JSON
	Alarms           datatypes.JSON
}

func (in *TemplateInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if in.Scope == "" {
		in.Scope = ScopePublic
	}
	switch in.Scope {
	case ScopePublic:
		in.EnterpriseID = nil
	case ScopeCustom:
		if in.EnterpriseID == nil {
			return fmt.Errorf("%w: custom templates need an enterprise", ErrInvalidTemplate)
		}
	default:
		return fmt.Errorf("%w: scope must be public or custom", ErrInvalidTemplate)
	}
	for name, raw := range map[string]datatypes.JSON{
		"registers":         in.Registers,
		"calculated_fields": in.CalculatedFields,
		"alarms":            in.Alarms,
	} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidTemplate, name)
		}
	}
	return nil
}

// List returns templates visible to enterpriseID: every public template plus
// that enterprise's custom ones. A nil enterpriseID with all set lists everything.
func (s *TemplateService) List(ctx context.Context, enterpriseID *uuid.UUID, all bool) ([]ControllerTemplate, error) {
	q := s.db.WithContext(ctx).Order("scope, name")
	if !all {
		if enterpriseID != nil {
			q = q.Where("scope = ? OR (scope = ? AND enterprise_id = ?)", ScopePublic, ScopeCustom, *enterpriseID)
		} else {
			q = q.Where("scope = ?", ScopePublic)
		}
	}
	var out []ControllerTemplate
	return out, q.Find(&out).Error
}

func (s *TemplateService) Get(ctx context.Context, id uuid.UUID) (*ControllerTemplate, error) {
	var t ControllerTemplate
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *TemplateService) Create(ctx context.Context, in TemplateInput, createdBy *uuid.UUID) (*ControllerTemplate, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	t := &ControllerTemplate{
		Name:             in.Name,
		Description:      in.Description,
		Scope:            in.Scope,
		EnterpriseID:     in.EnterpriseID,
		HardwareTypeID:   in.HardwareTypeID,
		Registers:        in.Registers,
		CalculatedFields: in.CalculatedFields,
		Alarms:           in.Alarms,
		CreatedBy:        createdBy,
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

// Update overwrites a template in place; there is no version history.
func (s *TemplateService) Update(ctx context.Context, id uuid.UUID, in TemplateInput) (*ControllerTemplate, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&ControllerTemplate{}).Where("id = ?", id).Updates(map[string]interface{}{
		"name":              in.Name,
		"description":       in.Description,
		"scope":             in.Scope,
		"enterprise_id":     in.EnterpriseID,
		"hardware_type_id":  in.HardwareTypeID,
		"registers":         in.Registers,
		"calculated_fields": in.CalculatedFields,
		"alarms":            in.Alarms,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a template and unlinks it from master devices.
func (s *TemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SiteMasterDevice{}).Where("template_id = ?", id).Update("template_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&ControllerTemplate{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// TemplateDocument is the portable YAML form of a template.
type TemplateDocument struct {
	Name             string      `yaml:"name"`
	Description      string      `yaml:"description,omitempty"`
	Scope            string      `yaml:"scope"`
	HardwareType     string      `yaml:"hardware_type,omitempty"`
	Registers        interface{} `yaml:"registers,omitempty"`
	CalculatedFields interface{} `yaml:"calculated_fields,omitempty"`
	Alarms           interface{} `yaml:"alarms,omitempty"`
}

// ExportYAML renders a template as YAML. Enterprise ownership is not exported.
func ExportYAML(t *ControllerTemplate) ([]byte, error) {
	doc := TemplateDocument{
		Name:         t.Name,
		Description:  t.Description,
		Scope:        t.Scope,
		HardwareType: t.HardwareTypeID,
	}
	for _, f := range []struct {
		raw datatypes.JSON
		dst *interface{}
	}{
		{t.Registers, &doc.Registers},
		{t.CalculatedFields, &doc.CalculatedFields},
		{t.Alarms, &doc.Alarms},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("template %s has invalid JSON: %w", t.ID, err)
		}
	}
	return yaml.Marshal(&doc)
}

// ParseYAML reads a TemplateDocument into a TemplateInput.
func ParseYAML(data []byte) (TemplateInput, error) {
	var doc TemplateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return TemplateInput{}, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	in := TemplateInput{
		Name:           doc.Name,
		Description:    doc.Description,
		Scope:          doc.Scope,
		HardwareTypeID: doc.HardwareType,
	}
	var err error
	if in.Registers, err = toJSON(doc.Registers); err != nil {
		return TemplateInput{}, err
	}
	if in.CalculatedFields, err = toJSON(doc.CalculatedFields); err != nil {
		return TemplateInput{}, err
	}
	if in.Alarms, err = toJSON(doc.Alarms); err != nil {
		return TemplateInput{}, err
	}
	return in, nil
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return datatypes.JSON(b), nil
}
