package qjs

import "github.com/yaoapp/kun/log"

// maximum heap the engine is allowed before the option is clamped, 1.5G
const maxMemoryLimit uint64 = 1518338048

// Validate the option
func (option *Option) Validate() {

	if option.MemoryLimit > maxMemoryLimit {
		log.Warn("[qjs] the maximum value of memoryLimit is 1518338048(1.5G)")
		option.MemoryLimit = maxMemoryLimit
	}

	if option.GCThreshold == 0 {
		option.GCThreshold = -1
	}

	if option.BytecodeCacheSize <= 0 {
		option.BytecodeCacheSize = 100
	}

	if option.BytecodeCacheSize > 1024 {
		log.Warn("[qjs] the maximum value of bytecodeCacheSize is 1024")
		option.BytecodeCacheSize = 1024
	}
}
