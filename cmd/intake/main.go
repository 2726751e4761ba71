package main

import "os"

// Keys under which board state persists in the local KV store. The two
// components never share a key, so one decode failure cannot evict the
// other's state.
const (
	cacheKey = "board/cache"
	queueKey = "board/queue"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
