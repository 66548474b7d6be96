// Package inject builds the dependency containers HTTP handlers resolve
// their services from with ectoinject.GetContext.
package inject

import (
	"fmt"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
)

// NewContainer creates and registers a container under id. The container's
// own logging is off; resolution failures surface as handler errors.
func NewContainer(id string) (ectocontainer.DIContainer, error) {
	logging := ectoinject.DefaulLoggerConfig
	logging.Enabled = false

	config := ectoinject.DefaultContainerConfig
	config.ID = id
	config.AllowMissingDependencies = false
	config.LoggerConfig = &logging

	container, err := ectoinject.NewDIContainer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", id, err)
	}
	return container, nil
}

// Provide registers instance as the singleton resolved for T
func Provide[T any](container ectocontainer.DIContainer, instance T) error {
	if err := ectoinject.RegisterInstance[T](container, instance); err != nil {
		return fmt.Errorf("failed to register %T: %w", instance, err)
	}
	return nil
}
