package module

import (
	"runtime"
	"sync"

	"gpnet/conf"

	"github.com/yinyihanbing/gutils/logs"
)

// Module is a unit of the process with its own goroutine. Run must return
// once closeSig fires.
type Module interface {
	OnInit()
	OnDestroy()
	Run(closeSig chan bool)
}

type module struct {
	mi       Module
	closeSig chan bool
	wg       sync.WaitGroup
}

var (
	mu   sync.Mutex
	mods []*module
)

// Register adds mi to the modules started by Init.
func Register(mi Module) {
	mu.Lock()
	defer mu.Unlock()
	mods = append(mods, &module{
		mi:       mi,
		closeSig: make(chan bool, 1),
	})
}

// Init initializes the registered modules in order and runs each on its own
// goroutine.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	for _, m := range mods {
		m.mi.OnInit()
		m.wg.Add(1)
		go run(m)
	}
}

// Destroy stops the modules in reverse order, waiting for each Run to
// return before calling its OnDestroy, then forgets them.
func Destroy() {
	mu.Lock()
	defer mu.Unlock()
	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		m.closeSig <- true
		m.wg.Wait()
		safeDestroy(m)
	}
	mods = nil
}

func run(m *module) {
	defer m.wg.Done()
	m.mi.Run(m.closeSig)
}

func safeDestroy(m *module) {
	defer func() {
		if r := recover(); r != nil {
			logError(r)
		}
	}()
	m.mi.OnDestroy()
}

func logError(r any) {
	if conf.LenStackBuf > 0 {
		buf := make([]byte, conf.LenStackBuf)
		l := runtime.Stack(buf, false)
		logs.Error("%v: %s", r, buf[:l])
	} else {
		logs.Error("%v", r)
	}
}
