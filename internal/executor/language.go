package executor

import (
	"fmt"
	"strings"

	"github.com/sakif/coderunner/internal/apperror"
)

// Language is one of the supported source languages.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Golang     Language = "golang"
	Kotlin     Language = "kotlin"
)

// Languages lists every supported language in a stable order.
var Languages = []Language{Python, JavaScript, Golang, Kotlin}

// ParseLanguage parses a language tag case-insensitively.
// Unknown tags are a validation error; there is no default language.
func ParseLanguage(s string) (Language, error) {
	switch lang := Language(strings.ToLower(strings.TrimSpace(s))); lang {
	case Python, JavaScript, Golang, Kotlin:
		return lang, nil
	default:
		return "", apperror.ValidationFailed("language", fmt.Sprintf("Unsupported language: %s", s))
	}
}

func (l Language) String() string { return string(l) }

// UnmarshalText lets JSON bodies and query decoders use ParseLanguage.
func (l *Language) UnmarshalText(text []byte) error {
	parsed, err := ParseLanguage(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Profile is the fixed image and argv used to run one language.
type Profile struct {
	Image   string
	Command []string
}

type profileTemplate struct {
	image  string
	script string // %s receives the quoted source
}

var profiles = map[Language]profileTemplate{
	Python: {
		image:  "python:3.9-slim",
		script: "mkdir -p /app && echo '%s' > /app/code.py && python /app/code.py",
	},
	JavaScript: {
		image:  "node:18-alpine",
		script: "mkdir -p /app && echo '%s' > /app/code.js && node /app/code.js",
	},
	Golang: {
		image:  "golang:1.19-alpine",
		script: "mkdir -p /app && echo '%s' > /app/code.go && cd /app && go run code.go",
	},
	Kotlin: {
		image:  "kotlin:latest",
		script: "mkdir -p /app && echo '%s' > /app/code.kt && cd /app && kotlinc code.kt -include-runtime -d code.jar && java -jar code.jar",
	},
}

// Resolve maps a language to its image and shell invocation.
//
// The source is embedded inside a single-quoted echo after rewriting every
// single quote to a double quote. This is not shell escaping: code that
// contains other metacharacters can change what the shell runs. The container's
// network and resource limits are the sandbox, not this quoting.
func Resolve(lang Language, code string) (Profile, error) {
	tmpl, ok := profiles[lang]
	if !ok {
		return Profile{}, apperror.ValidationFailed("language", fmt.Sprintf("Unsupported language: %s", lang))
	}

	quoted := strings.ReplaceAll(code, "'", "\"")

	return Profile{
		Image:   tmpl.image,
		Command: []string{"sh", "-c", fmt.Sprintf(tmpl.script, quoted)},
	}, nil
}

// Images returns the image of every supported language.
func Images() []string {
	images := make([]string, 0, len(Languages))
	for _, lang := range Languages {
		images = append(images, profiles[lang].image)
	}
	return images
}
