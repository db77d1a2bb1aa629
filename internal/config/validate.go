package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"codadeploy/internal/security"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their YAML key so problems read like the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Prefixes and labels form host names, so they share one character set.
	v.RegisterValidation("label", func(fl validator.FieldLevel) bool {
		return security.ValidateLabel(fl.Field().String()) == nil
	})
	v.RegisterStructValidation(validateService, Service{})

	return v
}

// validateService checks rules that span fields or live inside free-form maps.
func validateService(sl validator.StructLevel) {
	svc := sl.Current().Interface().(Service)

	if svc.Git.Tag == "" {
		sl.ReportError(svc.Git.Tag, "git.tag", "Tag", "required", "")
	} else if err := security.ValidateGitRef(svc.Git.Tag); err != nil {
		sl.ReportError(svc.Git.Tag, "git.tag", "Tag", "gitref", "")
	}
	if svc.Bundles.Tag != "" {
		if err := security.ValidateGitRef(svc.Bundles.Tag); err != nil {
			sl.ReportError(svc.Bundles.Tag, "git-bundles.tag", "Tag", "gitref", "")
		}
	}

	if svc.Django != nil {
		if profile, _ := svc.Django["configuration"].(string); profile == "" {
			sl.ReportError(svc.Django, "django.configuration", "Django", "required", "")
		}
	}

	if svc.VM.Count > 0 && svc.VM.SSHPort > 0 && svc.VM.SSHPort+svc.VM.Count > 65535 {
		sl.ReportError(svc.VM.SSHPort, "vm.ssh-port", "SSHPort", "portrange", "")
	}

	db := svc.Database
	if db.BundleDBName != "" {
		if err := security.ValidateSQLIdentifier(db.BundleDBName); err != nil {
			sl.ReportError(db.BundleDBName, "database.bundle_db_name", "BundleDBName", "identifier", "")
		}
	}
	if db.BundleUser != "" {
		if err := security.ValidateSQLIdentifier(db.BundleUser); err != nil {
			sl.ReportError(db.BundleUser, "database.bundle_user", "BundleUser", "identifier", "")
		}
	}
}

// validateSection validates one config section and returns human-readable
// problems keyed by the dotted YAML path under prefix.
func validateSection(section any, prefix string) []string {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := prefix + "." + trimRoot(fe.Namespace())
		problems = append(problems, describe(key, fe))
	}
	return problems
}

// trimRoot drops the struct type name validator puts at the front of a namespace.
func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(key string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("missing required key %s", key)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", key, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", key, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "label":
		return fmt.Sprintf("%s may only contain letters, digits and '-', got %q", key, fe.Value())
	case "gitref":
		return fmt.Sprintf("%s is not a valid git ref: %q", key, fe.Value())
	case "identifier":
		return fmt.Sprintf("%s is not a valid SQL identifier: %q", key, fe.Value())
	case "portrange":
		return fmt.Sprintf("%s plus vm.count exceeds 65535", key)
	default:
		return fmt.Sprintf("%s failed %q validation", key, fe.Tag())
	}
}
