package artifact_engine

import (
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/handler"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/middleware"
	"github.com/gin-gonic/gin"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"
)

var (
	apiVersionHeader = fizz.Header(
		"API-Version",
		"API version of the response",
		"", // empty string: primitive string in the spec
	)

	notFoundResponse = fizz.Response(
		"404",
		"Not Found",
		nil, // no inline schema
		nil, // no content media type
		nil, // no extra headers
	)

	conflictResponse = fizz.Response(
		"409",
		"Conflict: the chain was updated concurrently, retry from begin-upload",
		nil,
		nil,
		nil,
	)
)

func NewRouter(apiVersion string, controller *handler.ArtifactsAPIController) *fizz.Fizz {
	g := gin.Default()
	g.Use(APIVersionMiddleware(apiVersion))
	f := fizz.NewFromEngine(g)

	f.Generator().SetServers([]*openapi.Server{
		{
			URL:         "https://artifacts.artifact-vault.io/v1",
			Description: "Production",
		},
	})

	info := &openapi.Info{
		Title:       "Artifact engine API v1",
		Description: "Versioned artifact storage engine: immutable version chains over presigned blob uploads",
		Version:     apiVersion,
		Contact: &openapi.Contact{
			Name: "Team artifact-vault",
			URL:  "https://github.com/artifact-vault/artifact-engine",
		},
	}

	root := f.Group("/v1", "Artifacts v1", "Artifact engine V1 routes")

	// Read endpoints
	read := root.Group("", "Read", "Chain history and snapshots", middleware.RequireAccess("artifacts:read"))
	read.GET("/artifacts/:id/versions",
		[]fizz.OperationOption{
			fizz.Summary("List the version chain of an artifact, newest first"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.ListChain, 200),
	)

	read.GET("/artifacts/:id/current",
		[]fizz.OperationOption{
			fizz.Summary("Get the current version of an artifact"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.GetCurrent, 200),
	)

	read.GET("/artifacts/:id/as-of",
		[]fizz.OperationOption{
			fizz.Summary("Get the version that was current at a point in time"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.GetAsOf, 200),
	)

	// Write endpoints
	write := root.Group("", "Write", "Upload handshake", middleware.RequireAccess("artifacts:write"))
	write.POST("/artifacts/begin-upload",
		[]fizz.OperationOption{
			fizz.Summary("Reserve a new artifact and get a presigned upload credential"),
			apiVersionHeader,
		},
		tonic.Handler(controller.BeginUpload, 201),
	)

	write.POST("/artifacts/:id/new-version",
		[]fizz.OperationOption{
			fizz.Summary("Reserve the next version of an existing artifact"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.BeginNewVersion, 201),
	)

	write.POST("/artifacts/:id/confirm",
		[]fizz.OperationOption{
			fizz.Summary("Confirm the blob upload and finalize the version"),
			apiVersionHeader,
			notFoundResponse,
			conflictResponse,
		},
		tonic.Handler(controller.ConfirmUpload, 200),
	)

	write.POST("/artifacts/:id/abandon",
		[]fizz.OperationOption{
			fizz.Summary("Abandon a pending upload reservation"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.AbandonUpload, 204),
	)

	// OpenAPI document
	f.GET("/v1/openapi.json", []fizz.OperationOption{}, f.OpenAPI(info, "json"))

	// Health
	f.GET("/v1/health", []fizz.OperationOption{fizz.Summary("Health check")}, tonic.Handler(healthCheck, 200))

	return f
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthCheck(_ *gin.Context) (*healthResponse, error) {
	return &healthResponse{Status: "ok"}, nil
}

type apiVersionWriter struct {
	gin.ResponseWriter
	version string
}

func (w *apiVersionWriter) WriteHeader(code int) {
	if code >= 200 && code < 300 {
		w.Header().Set("API-Version", w.version)
	}
	w.ResponseWriter.WriteHeader(code)
}

func APIVersionMiddleware(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &apiVersionWriter{c.Writer, version}
		c.Next()
	}
}
