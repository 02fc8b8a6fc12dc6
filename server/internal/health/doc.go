// Package health serves the standard gRPC health checking protocol
// (grpc.health.v1.Health) for load balancers and orchestrators.
//
// Both the overall status ("") and Service report SERVING while Serve runs and
// NOT_SERVING before it starts and after shutdown begins.
package health
