package main

import (
	"context"
	"os"
	"strings"

	"autograd/internal/3rdparty/autograd"
	"autograd/internal/result"

	"github.com/go-playground/validator/v10"
	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/logf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/guregu/null.v3"
)

type Upload struct {
	File      string             `yaml:"file" doc:"Path to the uploaded file." example:"testdata/input.txt" validate:"required"`
	Filename  string             `yaml:"filename,omitempty" doc:"File name sent to the server. Base name of file is used by default."`
	MediaType autograd.MediaType `yaml:"mediaType" doc:"Media type of the uploaded file." enum:"assignment_case_input,assignment_case_output,submission" validate:"required,mediatype"`
}

type C struct {
	Server     autograd.Config        `yaml:"server" doc:"autograd server settings."`
	Uploads    []Upload               `yaml:"uploads,omitempty" doc:"Files to be uploaded. All files are uploaded concurrently." validate:"dive"`
	Logging    apfel.LogfConfig       `yaml:"logging,omitempty" doc:"Logging settings."`
	Prometheus apfel.PrometheusConfig `yaml:"prometheus,omitempty" doc:"Prometheus settings."`
}

func (c C) AutogradConfig() autograd.Config          { return c.Server }
func (c C) LogfConfig() apfel.LogfConfig             { return c.Logging }
func (c C) PrometheusConfig() apfel.PrometheusConfig { return c.Prometheus }

// record is printed for every upload.
type record struct {
	File      string             `json:"file"`
	MediaType autograd.MediaType `json:"mediaType"`
	ID        null.String        `json:"id"`
	Error     null.String        `json:"error"`
}

var GitCommit = "dev"

// legacyEnv maps environment variables of autograd server deployments to configuration properties.
var legacyEnv = []struct {
	from, to string
	convert  func(value string) string
}{
	{"AUTOGRAD_SERVER_URL", "autograd_server_baseUrl", func(value string) string {
		return strings.TrimRight(value, "/") + "/api/v1/rpc"
	}},
	{"AUTOGRAD_SERVER_URL", "autograd_server_serviceUrl", func(value string) string {
		return strings.TrimRight(value, "/") + "/grpc"
	}},
	{"AUTOGRAD_AUTH_TOKEN", "autograd_server_token", func(value string) string {
		return value
	}},
}

// loadEnv loads .env files into the process environment and then applies legacyEnv.
// Variables which are already set are never overridden.
func loadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "load .env")
	}

	return applyLegacyEnv(os.LookupEnv, os.Setenv)
}

func applyLegacyEnv(lookup func(key string) (string, bool), set func(key, value string) error) error {
	for _, env := range legacyEnv {
		value, ok := lookup(env.from)
		if !ok {
			continue
		}

		if _, ok := lookup(env.to); ok {
			continue
		}

		if err := set(env.to, env.convert(value)); err != nil {
			return errors.Wrapf(err, "set %s", env.to)
		}
	}

	return nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	if err := validate.RegisterValidation("mediatype", func(fl validator.FieldLevel) bool {
		return autograd.MediaType(fl.Field().String()).Valid()
	}); err != nil {
		panic(err)
	}

	return validate
}

func uploadRequests(uploads []Upload) []autograd.UploadMediaRequest {
	return lo.Map(uploads, func(upload Upload, _ int) autograd.UploadMediaRequest {
		return autograd.UploadMediaRequest{
			File:      flu.File(upload.File),
			Filename:  upload.Filename,
			MediaType: upload.MediaType,
		}
	})
}

func records(uploads []Upload, results []result.Result[autograd.UploadMediaResponse, *autograd.Error]) []record {
	return lo.Map(uploads, func(upload Upload, i int) record {
		r := record{File: upload.File, MediaType: upload.MediaType}
		if resp, err, ok := results[i].Get(); ok {
			r.ID = null.StringFrom(resp.ID)
		} else {
			r.Error = null.StringFrom(err.Error())
		}

		return r
	})
}

func failed(records []record) bool {
	return lo.ContainsBy(records, func(r record) bool { return r.Error.Valid })
}

func writeRecords(out flu.Output, records []record) error {
	return flu.EncodeTo(flu.JSON(records), out)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loadEnv(); err != nil {
		logf.Warnf(ctx, "%v", err)
	}

	app := apfel.Boot[C]{
		Name:    "autograd",
		Version: GitCommit,
	}.App(ctx)
	defer flu.CloseQuietly(app)

	config := app.Config()
	if err := newValidator().Struct(config); err != nil {
		logf.Panicf(ctx, "invalid config: %v", err)
	}

	var client autograd.Client[C]
	app.Uses(ctx,
		new(apfel.Logf[C]),
		new(apfel.Prometheus[C]),
		&client,
	)

	results := records(config.Uploads, client.SaveMediaAll(ctx, uploadRequests(config.Uploads)...))
	if err := writeRecords(flu.IO{W: os.Stdout}, results); err != nil {
		logf.Panicf(ctx, "write results: %v", err)
	}

	if failed(results) {
		flu.CloseQuietly(app)
		cancel()
		os.Exit(1)
	}
}
