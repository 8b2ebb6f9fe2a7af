package validation

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/pkg/pagination"
)

var (
	v        *validator.Validate
	initOnce sync.Once
	sheetRe  = regexp.MustCompile(`^[^\[\]:*?/\\]{1,31}$`)
)

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	initOnce.Do(func() {
		v = validator.New()
		// Report fields by their JSON names so messages match tool arguments.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		// Lead file path must have a supported extension
		_ = v.RegisterValidation("leadpath", func(fl validator.FieldLevel) bool {
			return hasExt(fl.Field().String(), ".xlsx", ".xlsm", ".csv")
		})
		_ = v.RegisterValidation("exportpath", func(fl validator.FieldLevel) bool {
			return hasExt(fl.Field().String(), ".xlsx", ".csv")
		})
		// Empty means the default dimension; use with omitempty when optional.
		_ = v.RegisterValidation("dimension", func(fl validator.FieldLevel) bool {
			_, err := leads.ParseDimension(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("sortkey", func(fl validator.FieldLevel) bool {
			_, err := campaigns.ParseSortKey(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("sheetname", func(fl validator.FieldLevel) bool {
			return sheetRe.MatchString(fl.Field().String())
		})
		// RFC 3339 instant or bare date
		_ = v.RegisterValidation("datetime_or_date", func(fl validator.FieldLevel) bool {
			_, err := ParseBound(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
				return false
			}
			_, err := pagination.DecodeCursor(s)
			return err == nil
		})
	})
	return v
}

func hasExt(s string, exts ...string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	ext := strings.ToLower(filepath.Ext(s))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// ParseBound parses a window bound. Bare dates are midnight UTC.
func ParseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("validation: %q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "required_with":
				return fmt.Sprintf("VALIDATION: %s is required together with %s", field, strings.ToLower(fe.Param()))
			case "leadpath":
				return "VALIDATION: path must be a lead file (.xlsx, .xlsm, .csv)"
			case "exportpath":
				return "VALIDATION: export path must end in .csv or .xlsx"
			case "dimension":
				return "VALIDATION: dimension must be one of campaign, source, medium"
			case "sortkey":
				keys := make([]string, 0, len(campaigns.SortKeys()))
				for _, k := range campaigns.SortKeys() {
					keys = append(keys, string(k))
				}
				return "VALIDATION: sort_by must be one of " + strings.Join(keys, ", ")
			case "sheetname":
				return "VALIDATION: invalid sheet name"
			case "datetime_or_date":
				return fmt.Sprintf("VALIDATION: %s must be RFC 3339 (2025-03-01T00:00:00Z) or a date (2025-03-01)", field)
			case "cursor":
				return "CURSOR_INVALID: failed to decode cursor; restart pagination from the first page"
			case "min", "max", "gte", "lte":
				return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("VALIDATION: invalid %s", field)
		}
		return "VALIDATION: invalid inputs"
	}
	return ""
}
