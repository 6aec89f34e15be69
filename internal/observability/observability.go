// Package observability builds the process logger and tracer provider.
// Logs always go to stdout as JSON; with an OTLP endpoint configured they are
// also exported, together with traces.
package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logsPath      = "/otlp/v1/logs"
	tracesPath    = "/otlp/v1/traces"
	exportTimeout = 30 * time.Second
	maxQueueSize  = 2048
)

type Settings struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	AuthHeader     string
}

// Telemetry owns the logger and tracer provider for the process lifetime.
type Telemetry struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider

	shutdowns []func(context.Context) error
}

func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Shutdown flushes exporters and syncs the logger.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdowns {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdowns = nil
	_ = t.Logger.Sync()
	return err
}

// Setup builds the telemetry stack. Exporter failures are returned alongside
// a usable stdout-only Telemetry so the service can still start.
func Setup(ctx context.Context, s Settings) (*Telemetry, error) {
	console := consoleCore()
	fields := zap.Fields(zap.String("service.name", s.ServiceName))

	if s.Endpoint == "" {
		return &Telemetry{
			Logger:         zap.New(console, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), fields),
			TracerProvider: noop.NewTracerProvider(),
		}, nil
	}

	service := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(s.ServiceName),
		semconv.ServiceVersion(s.ServiceVersion),
	)
	res, err := resource.Merge(resource.Default(), service)
	if err != nil {
		// Schema URL mismatch with the SDK defaults; keep the service attributes.
		res = service
	}

	tel := &Telemetry{TracerProvider: noop.NewTracerProvider()}
	headers := map[string]string{}
	if s.AuthHeader != "" {
		headers["Authorization"] = s.AuthHeader
	}

	var setupErr error
	cores := []zapcore.Core{console}

	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(s.Endpoint),
		otlploghttp.WithURLPath(logsPath),
		otlploghttp.WithHeaders(headers),
	)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("otlp log exporter: %w", err))
	} else {
		loggerProvider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
				sdklog.WithExportTimeout(exportTimeout),
				sdklog.WithMaxQueueSize(maxQueueSize),
			)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(loggerProvider)
		tel.shutdowns = append(tel.shutdowns, loggerProvider.Shutdown)
		cores = append(cores, otelzap.NewCore(s.ServiceName, otelzap.WithLoggerProvider(loggerProvider)))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(s.Endpoint),
		otlptracehttp.WithURLPath(tracesPath),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("otlp trace exporter: %w", err))
	} else {
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter,
				sdktrace.WithExportTimeout(exportTimeout),
				sdktrace.WithMaxQueueSize(maxQueueSize),
			)),
		)
		otel.SetTracerProvider(tracerProvider)
		tel.shutdowns = append(tel.shutdowns, tracerProvider.Shutdown)
		tel.TracerProvider = tracerProvider
	}

	tel.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), fields)
	return tel, setupErr
}

func consoleCore() zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)
}
