// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"sync"

	"examprep/internal/config"
	"examprep/internal/database"
	"examprep/internal/observability"
	"examprep/internal/services"
	contextutils "examprep/internal/utils"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetMasteryService() (services.MasteryServiceInterface, error)
	GetScheduleService() (services.ScheduleServiceInterface, error)
	GetCalibrationService() (services.CalibrationServiceInterface, error)
	GetSelectionService() (services.SelectionServiceInterface, error)
	GetInsightService() (services.InsightServiceInterface, error)
	GetCognitiveService() (services.CognitiveServiceInterface, error)
	GetGenerationHintService() (services.GenerationHintServiceInterface, error)
	GetItemStore() (services.ItemStore, error)
	GetResponseLedger() (services.ResponseLedger, error)
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg           *config.Config
	logger        *observability.Logger
	dbManager     *database.Manager
	db            *sql.DB
	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger) *ServiceContainer {
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		services: make(map[string]interface{}),
	}
}

// Initialize sets up all services and their dependencies
func (sc *ServiceContainer) Initialize(_ context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	// Initialize database
	sc.dbManager = database.NewManager(sc.logger)
	db, err := sc.dbManager.InitDBWithConfig(sc.cfg.Database)
	if err != nil {
		return contextutils.WrapError(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return db.Close()
	})

	sc.initializeServices()

	return nil
}

// initializeServices wires up all service dependencies in order
func (sc *ServiceContainer) initializeServices() {
	// Stores have no service dependencies
	itemStore := services.NewItemStore(sc.db, sc.cfg, sc.logger)
	sc.services["item_store"] = itemStore

	responseLedger := services.NewResponseLedger(sc.db, sc.cfg, sc.logger)
	sc.services["response_ledger"] = responseLedger

	// Mastery rollups feed both selection and hint generation
	masteryService := services.NewMasteryServiceWithLogger(responseLedger, itemStore, sc.cfg, sc.logger)
	sc.services["mastery"] = masteryService

	scheduleService := services.NewScheduleServiceWithLogger(responseLedger, sc.cfg, sc.logger)
	sc.services["schedule"] = scheduleService

	calibrationService := services.NewCalibrationServiceWithLogger(responseLedger, itemStore, sc.cfg, sc.logger)
	sc.services["calibration"] = calibrationService

	selectionService := services.NewSelectionServiceWithLogger(itemStore, responseLedger, masteryService, sc.cfg, sc.logger)
	sc.services["selection"] = selectionService

	insightService := services.NewInsightServiceWithLogger(responseLedger, sc.cfg, sc.logger)
	sc.services["insight"] = insightService

	cognitiveService := services.NewCognitiveServiceWithLogger(responseLedger, itemStore, sc.cfg, sc.logger)
	sc.services["cognitive"] = cognitiveService

	hintService := services.NewGenerationHintServiceWithLogger(sc.db, masteryService, sc.cfg, sc.logger)
	sc.services["generation_hint"] = hintService
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetMasteryService returns the topic performance service
func (sc *ServiceContainer) GetMasteryService() (services.MasteryServiceInterface, error) {
	return GetServiceAs[services.MasteryServiceInterface](sc, "mastery")
}

// GetScheduleService returns the spaced-repetition scheduler
func (sc *ServiceContainer) GetScheduleService() (services.ScheduleServiceInterface, error) {
	return GetServiceAs[services.ScheduleServiceInterface](sc, "schedule")
}

// GetCalibrationService returns the item calibration service
func (sc *ServiceContainer) GetCalibrationService() (services.CalibrationServiceInterface, error) {
	return GetServiceAs[services.CalibrationServiceInterface](sc, "calibration")
}

// GetSelectionService returns the item selection service
func (sc *ServiceContainer) GetSelectionService() (services.SelectionServiceInterface, error) {
	return GetServiceAs[services.SelectionServiceInterface](sc, "selection")
}

// GetInsightService returns the plateau detection service
func (sc *ServiceContainer) GetInsightService() (services.InsightServiceInterface, error) {
	return GetServiceAs[services.InsightServiceInterface](sc, "insight")
}

// GetCognitiveService returns the archetype classification service
func (sc *ServiceContainer) GetCognitiveService() (services.CognitiveServiceInterface, error) {
	return GetServiceAs[services.CognitiveServiceInterface](sc, "cognitive")
}

// GetGenerationHintService returns the generation hint service
func (sc *ServiceContainer) GetGenerationHintService() (services.GenerationHintServiceInterface, error) {
	return GetServiceAs[services.GenerationHintServiceInterface](sc, "generation_hint")
}

// GetItemStore returns the item store
func (sc *ServiceContainer) GetItemStore() (services.ItemStore, error) {
	return GetServiceAs[services.ItemStore](sc, "item_store")
}

// GetResponseLedger returns the response ledger
func (sc *ServiceContainer) GetResponseLedger() (services.ResponseLedger, error) {
	return GetServiceAs[services.ResponseLedger](sc, "response_ledger")
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var errs []error
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errs)
	}
	return nil
}
