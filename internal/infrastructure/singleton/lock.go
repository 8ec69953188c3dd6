// Package singleton 通过独占 HTTP 端口保证同一端口上只有一个编排进程
package singleton

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultPort 默认监听端口
	DefaultPort = ":19970"
	// HealthCheckTimeout 健康检查超时时间
	HealthCheckTimeout = 2 * time.Second
	// HealthPath 健康检查路径
	HealthPath = "/health"
)

// ErrAlreadyRunning 端口上已有健康的实例
var ErrAlreadyRunning = errors.New("another instance is already running")

// CheckAndLock 检查端口是否被占用，如果被占用则检查是否有实例在运行
// 已有健康实例时返回 ErrAlreadyRunning，端口被占用但实例不健康时返回其他错误
func CheckAndLock(port string) (net.Listener, error) {
	// 尝试监听端口
	listener, err := net.Listen("tcp", port)
	if err == nil {
		return listener, nil
	}

	if isAddrInUse(err) {
		if isInstanceRunning(port) {
			return nil, fmt.Errorf("端口 %s: %w", port, ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("端口 %s 被占用，但健康检查失败，可能存在死锁", port)
	}

	return nil, fmt.Errorf("监听端口失败: %w", err)
}

// isAddrInUse 检查错误是否是地址已在使用
func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows: WSAEADDRINUSE (10048)
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == 10048 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}

// healthURL 根据监听地址生成健康检查 URL
func healthURL(port string) string {
	host, p, err := net.SplitHostPort(port)
	if err != nil {
		return fmt.Sprintf("http://localhost%s%s", port, HealthPath)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, p), HealthPath)
}

// isInstanceRunning 检查是否有实例在运行
func isInstanceRunning(port string) bool {
	client := &http.Client{
		Timeout: HealthCheckTimeout,
	}

	resp, err := client.Get(healthURL(port))
	if err != nil {
		// 请求失败，说明实例不在运行或不可访问
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
