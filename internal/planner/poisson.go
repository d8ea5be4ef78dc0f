package planner

import "math"

// poissonCDF returns P[X <= k] for X ~ Poisson(lambda).
// Terms are built in log space so large lambda does not underflow e^-lambda.
func poissonCDF(k int, lambda float64) float64 {
	if k < 0 {
		return 0
	}
	if lambda <= 0 {
		return 1
	}

	logLambda := math.Log(lambda)
	logTerm := -lambda
	cdf := math.Exp(logTerm)
	for i := 1; i <= k; i++ {
		logTerm += logLambda - math.Log(float64(i))
		cdf += math.Exp(logTerm)
	}
	return math.Min(cdf, 1)
}
