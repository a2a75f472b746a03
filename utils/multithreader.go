package utils

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/atomic"
)

// Threads returns the number of goroutines MultiThread starts for each 'threadsPerCPU'. It is
// the number of logical cores reported by the CPU, falling back to the runtime's count.
func Threads() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}

	return runtime.NumCPU()
}

// MultiThread runs an operation on a range of integers across goroutines.
//
// should be run sequentially, not in a separate thread
// designed for use by operators in their mass calculations
//
// the range includes 'start' and excludes 'end'
// 'f' is the function that should be run for each value in the range
// 'opsPerThread' is the number of operations that each goroutine will handle before requesting
// another set
// 'threadsPerCPU' is the number of goroutines created for each CPU
//
// Each value in the range is given to exactly one call of 'f'.
func MultiThread(start, end int, f func(int), opsPerThread, threadsPerCPU int) {
	if end <= start {
		return
	}

	if opsPerThread < 1 {
		opsPerThread = 1
	}

	numThreads := Threads() * threadsPerCPU
	if max := (end - start + opsPerThread - 1) / opsPerThread; numThreads > max {
		numThreads = max
	}

	if numThreads <= 1 {
		for i := start; i < end; i++ {
			f(i)
		}
		return
	}

	next := atomic.NewInt64(int64(start))

	var wg sync.WaitGroup
	wg.Add(numThreads)
	for thread := 0; thread < numThreads; thread++ {
		go func() {
			defer wg.Done()

			for {
				e := int(next.Add(int64(opsPerThread)))
				i := e - opsPerThread
				if i >= end {
					return
				}

				if e > end {
					e = end
				}

				for ; i < e; i++ {
					f(i)
				}
			}
		}()
	}

	wg.Wait()
}
