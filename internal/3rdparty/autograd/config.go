package autograd

import (
	"github.com/go-playground/validator/v10"
	"github.com/jfk9w-go/flu"
	"github.com/pkg/errors"
)

type Config struct {
	BaseURL    string       `yaml:"baseUrl" doc:"Base URL of the autograd RPC HTTP endpoints (media uploads)." example:"http://localhost:8080/api/v1/rpc" validate:"required,url"`
	ServiceURL string       `yaml:"serviceUrl,omitempty" doc:"Base URL of the autograd Connect service. Required only for unary service calls." example:"http://localhost:8080/grpc" validate:"omitempty,url"`
	Token      string       `yaml:"token,omitempty" doc:"Bearer token sent with every request."`
	Timeout    flu.Duration `yaml:"timeout,omitempty" format:"duration" doc:"HTTP client timeout. Requests are not limited if empty."`
}

// Context is the application configuration interface.
type Context interface {
	AutogradConfig() Config
}

var validate = validator.New()

// Validate checks the configuration values.
func (c Config) Validate() error {
	return errors.Wrap(validate.Struct(c), "validate autograd config")
}
