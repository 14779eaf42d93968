// Package transports registers every built-in transport with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/handlerflow/transport/aws"
	_ "github.com/drblury/handlerflow/transport/channel"
	_ "github.com/drblury/handlerflow/transport/http"
	_ "github.com/drblury/handlerflow/transport/kafka"
	_ "github.com/drblury/handlerflow/transport/nats"
	_ "github.com/drblury/handlerflow/transport/rabbitmq"
)
