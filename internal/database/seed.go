package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

var defaultHardwareTypes = []HardwareType{
	{ID: "rpi5", Name: "Raspberry Pi 5", Manufacturer: "Raspberry Pi Ltd", Description: "4 GB or 8 GB, RS-485 HAT"},
	{ID: "rpi4", Name: "Raspberry Pi 4 Model B", Manufacturer: "Raspberry Pi Ltd", Description: "Legacy controllers"},
	{ID: "cm4-industrial", Name: "Compute Module 4 (DIN rail)", Manufacturer: "Raspberry Pi Ltd", Description: "Industrial carrier with dual Ethernet"},
}

var defaultCalculatedFields = []CalculatedFieldDefinition{
	{ID: "total_solar_power", Name: "Total Solar Power", Unit: "kW", Formula: "sum(inverter.active_power)", Category: "solar"},
	{ID: "total_load_power", Name: "Total Load Power", Unit: "kW", Formula: "sum(load_meter.active_power)", Category: "load"},
	{ID: "generator_power", Name: "Generator Power", Unit: "kW", Formula: "sum(generator.active_power)", Category: "generator"},
	{ID: "solar_share", Name: "Solar Share", Unit: "%", Formula: "total_solar_power / total_load_power * 100", Category: "solar"},
	{ID: "generator_headroom", Name: "Generator Headroom", Unit: "kW", Formula: "generator.rated_power - generator_power", Category: "generator"},
	{ID: "daily_solar_energy", Name: "Daily Solar Energy", Unit: "kWh", Formula: "integrate(total_solar_power, 1d)", Category: "energy"},
}

// SeedReferenceData creates default hardware types and calculated field
// definitions that do not exist yet. Existing rows are left alone.
func SeedReferenceData(db *gorm.DB) error {
	for _, hw := range defaultHardwareTypes {
		found, err := seedExists(db, &HardwareType{}, hw.ID)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		if err := db.Create(&hw).Error; err != nil {
			return fmt.Errorf("failed to create hardware type %s: %w", hw.ID, err)
		}
		logging.DebugWithComponent(logging.ComponentDatabase, "Seeded hardware type", "id", hw.ID)
	}

	for _, field := range defaultCalculatedFields {
		found, err := seedExists(db, &CalculatedFieldDefinition{}, field.ID)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		if err := db.Create(&field).Error; err != nil {
			return fmt.Errorf("failed to create calculated field %s: %w", field.ID, err)
		}
	}
	return nil
}

// seedExists uses Find so a missing row is not logged as a record-not-found error.
func seedExists(db *gorm.DB, model any, id string) (bool, error) {
	res := db.Model(model).Where("id = ?", id).Limit(1).Find(model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
