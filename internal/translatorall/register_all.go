// Package translatorall blank-imports every concrete converter package so
// their init() functions register with the translator registry, mirroring
// the teacher's internal/translator/init.go plugin-registration pattern.
// cmd/gatewayd imports this package for its side effects only.
package translatorall

import (
	_ "github.com/router-for-me/llmgateway/internal/translator/claudeopenaichat"
	_ "github.com/router-for-me/llmgateway/internal/translator/claudeopenairesponses"
	_ "github.com/router-for-me/llmgateway/internal/translator/geminiclaude"
	_ "github.com/router-for-me/llmgateway/internal/translator/geminiopenaichat"
	_ "github.com/router-for-me/llmgateway/internal/translator/geminiopenairesponses"
)
