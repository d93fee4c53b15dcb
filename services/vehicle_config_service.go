package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/vehicle"
)

// VehicleConfigService owns the single vehicle configuration. Readers get a
// complete snapshot; writers replace it wholesale.
type VehicleConfigService interface {
	LoadConfig() error
	Current() vehicle.Configuration
	Update(u vehicle.Update) vehicle.Configuration
	Path() string
}

// vehicleConfigService implements the VehicleConfigService interface.
type vehicleConfigService struct {
	configPath string
	logger     customlog.Logger

	current atomic.Pointer[vehicle.Configuration]
	// mu serialises Update and LoadConfig; reads never take it.
	mu sync.Mutex
}

// NewVehicleConfigService creates the service and loads configPath. A missing
// file starts from the default layout; an unreadable or invalid one is an error.
// An empty path keeps the configuration in memory only.
func NewVehicleConfigService(configPath string, logger customlog.Logger) (VehicleConfigService, error) {
	if logger == nil {
		logger = customlog.NewNop()
	}

	s := &vehicleConfigService{
		configPath: configPath,
		logger:     logger,
	}
	def := vehicle.Default()
	s.current.Store(&def)

	if err := s.LoadConfig(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadConfig reads the vehicle config file from disk and replaces the current snapshot.
func (s *vehicleConfigService) LoadConfig() error {
	if s.configPath == "" {
		s.logger.Infof("No vehicle config file configured, using the default layout in memory")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading vehicle configuration from: %s", s.configPath)
	data, err := os.ReadFile(s.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warnf("Vehicle config file '%s' not found, using the default layout", s.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading vehicle config file '%s': %w", s.configPath, err)
	}

	cfg := vehicle.Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("error parsing vehicle config file '%s': %w", s.configPath, err)
	}

	s.current.Store(&cfg)
	s.logger.Infof("Loaded vehicle configuration: %d thrusters, %d grippers, sensitivity %s/%s",
		len(cfg.Thrusters), len(cfg.Grippers), cfg.Sensitivity.Joystick, cfg.Sensitivity.Yaw)
	return nil
}

// Current returns a copy of the current configuration.
func (s *vehicleConfigService) Current() vehicle.Configuration {
	return s.current.Load().Clone()
}

// Update merges u into the current configuration, publishes the result and
// persists it. Persistence is best effort: a failed write is logged and the
// in-memory update stands.
func (s *vehicleConfigService) Update(u vehicle.Update) vehicle.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Merge(u)
	s.current.Store(&next)
	s.logger.Infof("Vehicle configuration updated")

	if err := s.persistConfigUnlocked(next); err != nil {
		s.logger.Errorf("Vehicle configuration not persisted: %v", err)
	}
	return next.Clone()
}

// Path returns the backing file, empty when in memory only.
func (s *vehicleConfigService) Path() string {
	return s.configPath
}

// persistConfigUnlocked writes cfg via a temp file and rename so a crash never
// leaves a truncated file. The caller holds s.mu.
func (s *vehicleConfigService) persistConfigUnlocked(cfg vehicle.Configuration) error {
	if s.configPath == "" {
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error encoding vehicle config: %w", err)
	}

	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory '%s': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".vehicle-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temp config file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing vehicle config file '%s': %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing vehicle config file '%s': %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.configPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing vehicle config file '%s': %w", s.configPath, err)
	}
	s.logger.Debugf("Persisted vehicle configuration to %s", s.configPath)
	return nil
}
