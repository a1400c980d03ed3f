package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/handler"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/helpers/problem"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/artifact-vault/artifact-engine/pkg/jobs"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/loopfz/gadgeto/tonic"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	engine "github.com/artifact-vault/artifact-engine/pkg/artifact_engine"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/blobstore"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/database"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/repositories"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/services"
)

const apiVersion = "1.0.0"

func invalidParamsFromBinding(err error, sample any) []problem.InvalidParam {
	// Try to match validator.ValidationErrors directly.
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// No validator errors? Return a generic one.
		return []problem.InvalidParam{{Name: "body", Reason: err.Error()}}
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	out := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		// StructField -> json tag
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("json"); tag != "" && tag != "-" {
				name = strings.Split(tag, ",")[0]
			}
		}
		out = append(out, problem.InvalidParam{
			Name:   name,
			Reason: humanReason(fe),
		})
	}
	return out
}

func humanReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return fe.Error()
	}
}

func init() {
	tonic.SetErrorHook(func(c *gin.Context, err error) (int, interface{}) {
		// 1) Bind/validate errors → 400 with the offending params
		var be tonic.BindError
		if errors.As(err, &be) || isValidationErr(err) {
			invalids := invalidParamsFromBinding(err, models.BeginUploadInput{})
			apiErr := problem.NewBadRequest("body", "Invalid input", invalids...)
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// 2) Our own APIError → pass-through
		if apiErr, ok := err.(problem.APIError); ok {
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// 3) Everything else → 500
		internal := problem.NewInternalServerError(err.Error())
		c.Header("Content-Type", "application/problem+json")
		return internal.Status, internal
	})
}

func isValidationErr(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	dbcon := "postgres://" +
		os.Getenv("DB_USERNAME") + ":" +
		os.Getenv("DB_PASSWORD") + "@" +
		os.Getenv("DB_HOSTNAME") + "/" +
		os.Getenv("DB_DBNAME") + "?search_path=" +
		os.Getenv("DB_SCHEMA")
	db, err := database.Connect(dbcon)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	var blobs blobstore.Client
	if bucket := os.Getenv("BLOB_BUCKET"); bucket != "" {
		blobs, err = blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:   bucket,
			Region:   os.Getenv("BLOB_REGION"),
			Endpoint: os.Getenv("BLOB_ENDPOINT"),
		})
		if err != nil {
			log.Fatalf("blob store setup failed: %v", err)
		}
	} else {
		log.Println("[WARN] BLOB_BUCKET not set; using in-memory blob store")
		blobs = blobstore.NewMemoryStore()
	}

	repo := repositories.NewVersionRepository(db)
	uploadSvc := services.NewUploadService(repo, blobs, services.AllowAll{}, services.UploadServiceConfig{
		TenantID:      os.Getenv("TENANT_ID"),
		CredentialTTL: durationEnv("CREDENTIAL_TTL", 15*time.Minute),
		PendingTTL:    durationEnv("REAP_TTL", time.Hour),
	})
	historySvc := services.NewHistoryService(repo)
	controller := handler.NewArtifactsAPIController(uploadSvc, historySvc)
	jobs.ScheduleReap(ctx, uploadSvc, os.Getenv("REAP_SCHEDULE"))

	// Start server
	router := engine.NewRouter(apiVersion, controller)

	log.Println("Server is running on port 1337")
	log.Fatal(http.ListenAndServe(":1337", router))
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[WARN] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
