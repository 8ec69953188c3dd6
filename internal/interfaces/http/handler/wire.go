package handler

import "github.com/google/wire"

// ProviderSet Handler ProviderSet
// ScanClock、ActivityCounter 接口绑定在顶层 wire.go 中处理
var ProviderSet = wire.NewSet(
	NewPipelineHandler,
	NewHealthHandler,
	NewStreamHandler,
)
