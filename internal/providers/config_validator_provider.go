package providers

import (
	"consentsync/internal/structures"
	"errors"

	"github.com/gookit/validate"
)

type CnfValidator struct {
	conf *structures.Config
}

func NewCnfValidator(conf *structures.Config) *CnfValidator {
	return &CnfValidator{conf: conf}
}

func (v *CnfValidator) Validate() error {
	vd := validate.Struct(v.conf)
	vd.StopOnError = false
	if !vd.Validate() {
		return vd.Errors
	}

	if v.conf.Backend.Driver == "rest" && v.conf.Backend.URL == "" {
		return errors.New("backend.url is required for the rest driver")
	}
	if v.conf.Sync.ProbeRetry.BackoffFactor < 1 ||
		v.conf.Stores.Config.Retry.BackoffFactor < 1 ||
		v.conf.Stores.Consents.Retry.BackoffFactor < 1 {
		return errors.New("retry backoffFactor must be >= 1")
	}
	return nil
}
