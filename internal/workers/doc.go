/*
Package workers sizes worker pools from the CPUs actually available.

runtime.NumCPU reports host CPUs, while GOMAXPROCS follows the container's
CPU quota. Count and its helpers scale GOMAXPROCS by the kind of work:

	workers.ForCPU(8) // conversions: encoders are CPU-bound
	workers.ForIO(16) // reading files from disk or a network share

The CONVERT_WORKERS environment variable pins the count for every helper,
still subject to the limit passed in.
*/
package workers
