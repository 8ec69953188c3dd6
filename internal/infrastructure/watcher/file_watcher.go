package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/pool"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

var (
	// ErrWatchDir 监听目录不可读（启动时致命）
	ErrWatchDir = errors.New("watch directory unreadable")
	// ErrAlreadyStarted 事件流不可重复启动
	ErrAlreadyStarted = errors.New("file watcher already started")
)

// WatchConfig FileWatcher 配置
type WatchConfig struct {
	// Dir 监听目录
	Dir string
	// Extensions 识别的扩展名（小写，带点）
	Extensions []string
	// SettleWindow 防抖静默窗口
	SettleWindow time.Duration
	// Recursive 是否监听子目录
	Recursive bool
	// MaxReadRetries 单个文件读取失败的最大重试次数
	MaxReadRetries int
	// ScanWorkers 扫描时并发计算指纹的数量
	ScanWorkers int
}

// DefaultWatchConfig 返回默认配置
func DefaultWatchConfig(dir string) WatchConfig {
	return WatchConfig{
		Dir:            dir,
		Extensions:     []string{".csv", ".tsv"},
		SettleWindow:   3 * time.Second,
		MaxReadRetries: 5,
		ScanWorkers:    4,
	}
}

// FileWatcher 数据目录监听器
// 将文件系统事件按路径防抖，窗口关闭后计算内容指纹并发出文件就绪事件
type FileWatcher struct {
	config  WatchConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	out     chan *events.FileReadyEvent
	outMu   sync.RWMutex
	outDone bool

	// 防抖相关
	debounceTimers map[string]*time.Timer
	readRetries    map[string]int
	debounceMu     sync.Mutex

	// 每个路径最近一次发出的指纹，用于过滤仅 touch 的修改
	lastEmitted map[string]string
	emittedMu   sync.Mutex

	// 控制
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// 扫描元数据
	metadata *ScanMetadata

	// fingerprint 计算文件指纹，测试中可替换
	fingerprint func(path string) (string, error)
}

// NewFileWatcher 创建文件监听器
func NewFileWatcher(config WatchConfig, metadata *ScanMetadata) (*FileWatcher, error) {
	if config.SettleWindow <= 0 {
		config.SettleWindow = 3 * time.Second
	}
	if config.ScanWorkers <= 0 {
		config.ScanWorkers = 4
	}
	if config.MaxReadRetries < 0 {
		config.MaxReadRetries = 0
	}
	exts := make([]string, 0, len(config.Extensions))
	for _, ext := range config.Extensions {
		exts = append(exts, strings.ToLower(ext))
	}
	config.Extensions = exts

	// 事件路径即 SourceFile 标识，必须是绝对路径
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch dir %q: %w", config.Dir, err)
	}
	config.Dir = dir

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		config:         config,
		watcher:        watcher,
		logger:         log.NewModuleLogger("watcher", "file_watcher"),
		out:            make(chan *events.FileReadyEvent, 256),
		debounceTimers: make(map[string]*time.Timer),
		readRetries:    make(map[string]int),
		lastEmitted:    make(map[string]string),
		stopCh:         make(chan struct{}),
		metadata:       metadata,
		fingerprint:    dataset.FingerprintFile,
	}, nil
}

// Events 文件就绪事件流
// 惰性、无限、不可重启；Stop 后通道关闭
func (fw *FileWatcher) Events() <-chan *events.FileReadyEvent {
	return fw.out
}

// Start 启动文件监听并执行一次初始扫描
// 监听目录不可读时返回 ErrWatchDir
func (fw *FileWatcher) Start() error {
	first := false
	fw.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyStarted
	}

	fw.logger.Info("Starting file watcher",
		"dir", fw.config.Dir,
		"extensions", fw.config.Extensions,
		"settle_window", fw.config.SettleWindow,
		"recursive", fw.config.Recursive,
	)

	if _, err := os.ReadDir(fw.config.Dir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWatchDir, fw.config.Dir, err)
	}

	// 添加监听目录
	if err := fw.addWatchDirs(); err != nil {
		return fmt.Errorf("%w: %v", ErrWatchDir, err)
	}

	// 启动事件处理循环
	fw.wg.Add(1)
	go fw.watchLoop()

	// 离线期间放入的文件通过初始扫描发现
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		ctx, cancel := fw.stopContext()
		defer cancel()
		if _, err := fw.Rescan(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fw.logger.Error("Initial scan failed", "error", err)
		}
	}()

	return nil
}

// Stop 停止文件监听并关闭事件流
func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		fw.logger.Info("Stopping file watcher")

		close(fw.stopCh)
		fw.watcher.Close()

		// 取消所有防抖定时器
		fw.debounceMu.Lock()
		for path, timer := range fw.debounceTimers {
			timer.Stop()
			delete(fw.debounceTimers, path)
		}
		fw.debounceMu.Unlock()

		fw.wg.Wait()

		fw.outMu.Lock()
		fw.outDone = true
		close(fw.out)
		fw.outMu.Unlock()

		fw.logger.Info("File watcher stopped")
	})
}

// stopContext 返回随 Stop 取消的 context
func (fw *FileWatcher) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-fw.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// LastScanTime 上次扫描时间
func (fw *FileWatcher) LastScanTime() time.Time {
	if fw.metadata == nil {
		return time.Time{}
	}
	return fw.metadata.GetLastScanTime()
}

// addWatchDirs 添加监听目录
func (fw *FileWatcher) addWatchDirs() error {
	if !fw.config.Recursive {
		return fw.watcher.Add(fw.config.Dir)
	}
	return fw.addDirRecursive(fw.config.Dir)
}

// addDirRecursive 递归添加目录监听
func (fw *FileWatcher) addDirRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // 忽略无法访问的子目录
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.watcher.Add(path); err != nil {
			if path == dir {
				return err
			}
			fw.logger.Debug("Failed to add directory to watch",
				"path", path,
				"error", err,
			)
		} else {
			fw.logger.Debug("Added directory to watch", "path", path)
		}
		return nil
	})
}

// watchLoop 事件监听循环
func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.stopCh:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", "error", err)
		}
	}
}

// handleFsEvent 处理文件系统事件
func (fw *FileWatcher) handleFsEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		fw.forget(event.Name)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) && fw.config.Recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// 新建子目录：加入监听，并处理目录中已经存在的文件
			if err := fw.addDirRecursive(event.Name); err != nil {
				fw.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			for _, path := range fw.listFiles(event.Name) {
				fw.schedule(path)
			}
			return
		}
	}

	if fw.IsRecognized(event.Name) {
		fw.schedule(event.Name)
	}
}

// IsRecognized 判断扩展名是否被识别
func (fw *FileWatcher) IsRecognized(path string) bool {
	base := filepath.Base(path)
	// 编辑器临时文件和隐藏文件
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range fw.config.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// schedule 为路径（重新）设置防抖定时器
func (fw *FileWatcher) schedule(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	select {
	case <-fw.stopCh:
		return
	default:
	}

	// 取消之前的定时器
	if timer, exists := fw.debounceTimers[path]; exists {
		timer.Stop()
	}

	// 创建新的防抖定时器
	fw.debounceTimers[path] = time.AfterFunc(fw.config.SettleWindow, func() {
		fw.settle(path)
	})
}

// isPending 路径是否处于防抖窗口中
func (fw *FileWatcher) isPending(path string) bool {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()
	_, ok := fw.debounceTimers[path]
	return ok
}

// settle 静默窗口结束：计算指纹并发出事件
func (fw *FileWatcher) settle(path string) {
	fw.debounceMu.Lock()
	delete(fw.debounceTimers, path)
	fw.debounceMu.Unlock()

	ev, err := fw.snapshot(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fw.forget(path)
			return
		}
		fw.retryRead(path, err)
		return
	}
	if ev == nil {
		// 计算指纹期间文件仍在变化
		fw.schedule(path)
		return
	}

	fw.debounceMu.Lock()
	delete(fw.readRetries, path)
	fw.debounceMu.Unlock()

	if !fw.markEmitted(path, ev.Fingerprint, false) {
		fw.logger.Debug("Content unchanged, skipping touch-only update", "path", path)
		return
	}
	fw.emit(ev)
}

// retryRead 读取失败时在下一个静默周期重试
func (fw *FileWatcher) retryRead(path string, err error) {
	fw.debounceMu.Lock()
	fw.readRetries[path]++
	attempts := fw.readRetries[path]
	if attempts > fw.config.MaxReadRetries {
		delete(fw.readRetries, path)
	}
	fw.debounceMu.Unlock()

	if attempts > fw.config.MaxReadRetries {
		fw.logger.Error("Giving up on unreadable file",
			"path", path,
			"attempts", attempts,
			"error", err,
		)
		return
	}
	fw.logger.Warn("Failed to read file, retrying on next settle cycle",
		"path", path,
		"attempt", attempts,
		"error", err,
	)
	fw.schedule(path)
}

// snapshot 读取文件并计算指纹
// 读取前后大小或修改时间不一致时返回 nil，表示文件仍在写入
func (fw *FileWatcher) snapshot(path string) (*events.FileReadyEvent, error) {
	before, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if before.IsDir() {
		return nil, fs.ErrNotExist
	}
	fp, err := fw.fingerprint(path)
	if err != nil {
		return nil, err
	}
	after, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return nil, nil
	}
	return &events.FileReadyEvent{
		Path:        path,
		Fingerprint: fp,
		Size:        after.Size(),
		ModTime:     after.ModTime(),
		EventTime:   time.Now(),
	}, nil
}

// markEmitted 记录发出的指纹，force 为 false 时指纹未变返回 false
func (fw *FileWatcher) markEmitted(path, fingerprint string, force bool) bool {
	fw.emittedMu.Lock()
	defer fw.emittedMu.Unlock()
	if !force && fw.lastEmitted[path] == fingerprint {
		return false
	}
	fw.lastEmitted[path] = fingerprint
	return true
}

// forget 文件被删除或移走
func (fw *FileWatcher) forget(path string) {
	fw.debounceMu.Lock()
	if timer, ok := fw.debounceTimers[path]; ok {
		timer.Stop()
		delete(fw.debounceTimers, path)
	}
	delete(fw.readRetries, path)
	fw.debounceMu.Unlock()

	fw.emittedMu.Lock()
	delete(fw.lastEmitted, path)
	fw.emittedMu.Unlock()
}

// emit 发出事件；Stop 之后丢弃
func (fw *FileWatcher) emit(ev *events.FileReadyEvent) {
	fw.outMu.RLock()
	defer fw.outMu.RUnlock()
	if fw.outDone {
		return
	}
	select {
	case fw.out <- ev:
		fw.logger.Debug("File ready event emitted",
			"path", ev.Path,
			"fingerprint", ev.Fingerprint,
			"size", ev.Size,
		)
	case <-fw.stopCh:
	}
}

// listFiles 列出目录下识别的文件
func (fw *FileWatcher) listFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !fw.config.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if fw.IsRecognized(path) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// Rescan 扫描目录，为每个已稳定的文件重新发出事件
// 不做 touch 过滤，由消费方根据已完成的指纹去重；返回发出的事件数
func (fw *FileWatcher) Rescan(ctx context.Context) (int, error) {
	startTime := time.Now()
	if _, err := os.ReadDir(fw.config.Dir); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrWatchDir, fw.config.Dir, err)
	}

	var (
		mu      sync.Mutex
		emitted int
		ready   []*events.FileReadyEvent
	)
	p := pool.New().WithMaxGoroutines(fw.config.ScanWorkers)
	for _, path := range fw.listFiles(fw.config.Dir) {
		if ctx.Err() != nil {
			break
		}
		if fw.isPending(path) {
			continue
		}
		p.Go(func() {
			info, err := os.Stat(path)
			if err != nil {
				return
			}
			// 最近仍在修改的文件交给防抖处理
			if time.Since(info.ModTime()) < fw.config.SettleWindow {
				fw.schedule(path)
				return
			}
			ev, err := fw.snapshot(path)
			if err != nil {
				fw.logger.Warn("Failed to fingerprint file during scan", "path", path, "error", err)
				fw.schedule(path)
				return
			}
			if ev == nil {
				fw.schedule(path)
				return
			}
			mu.Lock()
			ready = append(ready, ev)
			mu.Unlock()
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// 按路径排序后依次发出，保证扫描结果稳定
	sortEvents(ready)
	for _, ev := range ready {
		if fw.isPending(ev.Path) {
			continue
		}
		fw.markEmitted(ev.Path, ev.Fingerprint, true)
		fw.emit(ev)
		emitted++
	}

	if fw.metadata != nil {
		fw.metadata.SetLastScanTime(time.Now())
	}
	fw.logger.Info("Scan completed",
		"dir", fw.config.Dir,
		"emitted", emitted,
		"duration", time.Since(startTime),
	)
	return emitted, nil
}

func sortEvents(evs []*events.FileReadyEvent) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].Path < evs[j].Path })
}
