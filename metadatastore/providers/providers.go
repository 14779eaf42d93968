// Package providers imports all built-in metadata store providers for auto-registration.
// Import this package to have all providers registered with the default registry.
package providers

import (
	// Import all providers for side-effect registration
	_ "github.com/drblury/handlerflow/metadatastore/memory"
	_ "github.com/drblury/handlerflow/metadatastore/natskv"
	_ "github.com/drblury/handlerflow/metadatastore/redis"
	_ "github.com/drblury/handlerflow/metadatastore/sql"
)
