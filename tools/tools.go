//go:build tools

// Пакет tools фиксирует версии генераторов кода в go.mod.
//
//	go generate ./internal/domain/...
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
