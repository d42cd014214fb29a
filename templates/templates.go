// Package templates registers the Handlebars helpers available inside
// scripted step messages, so a test author can write things like
// {{randomValue type="NUMERIC" length=4}} or {{now format="yyyy-MM-dd"}}
// next to persona placeholders.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
)

type TemplateEngine struct{}

var (
	templateEngineInstance *TemplateEngine
	templateEngineOnce     sync.Once
)

// NewTemplateEngine returns the singleton instance, registering the helpers
// exactly once.
func NewTemplateEngine() *TemplateEngine {
	templateEngineOnce.Do(func() {
		RegisterHelpers()
		templateEngineInstance = &TemplateEngine{}
	})
	return templateEngineInstance
}

// RegisterHelpers registers custom Handlebars helpers
func RegisterHelpers() {
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) string {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "" {
			randomType = "ALPHANUMERIC"
		}

		if randomType == "UUID" {
			return uuid.New().String()
		}

		length := 10
		if lengthVal := options.HashProp("length"); lengthVal != nil {
			switch v := lengthVal.(type) {
			case int:
				length = v
			case int64:
				length = int(v)
			case float64:
				length = int(v)
			case string:
				fmt.Sscanf(v, "%d", &length)
			}
		}

		var result string
		switch randomType {
		case "ALPHABETIC":
			result = generateRandomString(alphabeticChars, length)
		case "NUMERIC":
			result = generateRandomString(numericChars, length)
		default:
			result = generateRandomString(alphanumericChars, length)
		}

		if uppercaseVal := options.HashProp("uppercase"); uppercaseVal != nil && raymond.IsTrue(uppercaseVal) {
			result = strings.ToUpper(result)
		}

		return result
	})
	// current timestamp helper
	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		now := time.Now().UTC()

		if offsetStr := options.HashStr("offset"); offsetStr != "" {
			offset, err := ParseOffset(offsetStr)
			if err == nil {
				now = now.Add(offset)
			}
		}

		format := options.HashStr("format")
		switch format {
		case "epoch":
			return fmt.Sprintf("%d", now.UnixMilli())
		case "unix":
			return fmt.Sprintf("%d", now.Unix())
		case "":
			return now.Format(time.RFC3339)
		default:
			return now.Format(JavaToGoDateFormat(format))
		}
	})
	// faker helper for ad-hoc synthetic data inside step messages
	raymond.RegisterHelper("faker", func(key string) string {
		r := gofakeit.New(0)

		parts := strings.Split(key, ".")
		category := parts[0]
		sub := ""
		if len(parts) > 1 {
			sub = parts[1]
		}
		switch category {
		case "Name":
			switch sub {
			case "first_name":
				return r.FirstName()
			case "last_name":
				return r.LastName()
			case "full_name":
				return r.Name()
			}
		case "Phone":
			switch sub {
			case "number":
				return r.Phone()
			case "number_formatted":
				return r.PhoneFormatted()
			}
		case "Internet":
			switch sub {
			case "email":
				return r.Email()
			case "username":
				return r.Username()
			}
		case "Address":
			switch sub {
			case "city":
				return r.City()
			case "street":
				return r.Street()
			case "postcode":
				return r.Zip()
			}
		case "Misc":
			switch sub {
			case "uuid":
				return r.UUID()
			case "date":
				return r.Date().Format("2006-01-02")
			}
		}
		return ""
	})
}

// generateRandomString generates a cryptographically secure random string
func generateRandomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

// ParseOffset parses offset strings like "3 days", "-24 seconds", "1 years"
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format")
	}

	var value int64
	if _, err := fmt.Sscanf(parts[0], "%d", &value); err != nil {
		return 0, err
	}

	unit := strings.TrimSuffix(strings.ToLower(parts[1]), "s")
	switch unit {
	case "second":
		return time.Duration(value) * time.Second, nil
	case "minute":
		return time.Duration(value) * time.Minute, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}

// JavaToGoDateFormat converts Java SimpleDateFormat to Go time format
func JavaToGoDateFormat(javaFormat string) string {
	replacements := []struct{ from, to string }{
		{"yyyy", "2006"},
		{"EEEE", "Monday"},
		{"MMMM", "January"},
		{"MMM", "Jan"},
		{"EEE", "Mon"},
		{"yy", "06"},
		{"MM", "01"},
		{"dd", "02"},
		{"HH", "15"},
		{"hh", "03"},
		{"mm", "04"},
		{"ss", "05"},
		{"a", "PM"},
	}

	result := javaFormat
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.from, r.to)
	}
	return result
}
