/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	tracesOutputNone = "none"
	tracesOutputOtel = "otel"
	serviceName      = "tabpilot"
)

var (
	errInvalidTracesOutput    = errors.New("invalid traces output")
	errInvalidProto           = errors.New("invalid protocol")
	errInvalidURLScheme       = errors.New("invalid URL scheme")
	errInvalidGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// tracerProvider is a trace.TracerProvider that can be flushed and released.
type tracerProvider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes the pending spans. After it, all methods are no-ops.
func (tp *tracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

type tracerProviderParams struct {
	proto    string
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultTracerProviderParams() tracerProviderParams {
	return tracerProviderParams{
		proto:    "grpc",
		endpoint: "127.0.0.1:4317",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// tracerProviderFromConfigLine creates the provider described by line, in the
// format otel[=<endpoint>][,proto=http|grpc][,header.<name>=<value>].
// An empty line or "none" gives a noop provider.
func tracerProviderFromConfigLine(ctx context.Context, line string) (*tracerProvider, error) {
	if line == "" || line == tracesOutputNone {
		return &tracerProvider{
			TracerProvider: noop.NewTracerProvider(),
			shutdown:       func(context.Context) error { return nil },
		}, nil
	}
	params, err := tracerProviderParamsFromConfigLine(line)
	if err != nil {
		return nil, err
	}

	client, err := newTraceClient(params)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter client: %w", err)
	}
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	// Instrumented libraries must not pick up our exporter.
	otel.SetTracerProvider(noop.NewTracerProvider())

	return &tracerProvider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

func newTraceClient(params tracerProviderParams) (otlptrace.Client, error) {
	switch params.proto {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(params.endpoint),
			otlptracehttp.WithURLPath(params.urlPath),
			otlptracehttp.WithHeaders(params.headers),
		}
		if params.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...), nil
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(params.endpoint),
			otlptracegrpc.WithHeaders(params.headers),
		}
		if params.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.NewClient(opts...), nil
	default:
		return nil, errInvalidProto
	}
}

func tracerProviderParamsFromConfigLine(line string) (tracerProviderParams, error) {
	params := defaultTracerProviderParams()
	if line == tracesOutputOtel {
		return params, nil
	}

	output, _, _ := strings.Cut(line, "=")
	if output != tracesOutputOtel {
		return params, fmt.Errorf("%w %q", errInvalidTracesOutput, output)
	}

	for _, token := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return params, fmt.Errorf("otel config token %q is not a key=value pair", token)
		}
		switch {
		case key == tracesOutputOtel:
			if err := params.parseURL(value); err != nil {
				return params, fmt.Errorf("couldn't parse the otel URL: %w", err)
			}
		case key == "proto":
			if value != "http" && value != "grpc" {
				return params, fmt.Errorf("couldn't parse the otel proto: %w: %q", errInvalidProto, value)
			}
			params.proto = value
		case strings.HasPrefix(key, "header."):
			params.headers[strings.TrimPrefix(key, "header.")] = value
		default:
			return params, fmt.Errorf("unknown otel config key %s", key)
		}
	}

	if params.proto == "grpc" && params.urlPath != "" {
		return params, errInvalidGRPCWithURLPath
	}
	return params, nil
}

func (p *tracerProviderParams) parseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", errInvalidURLScheme, u.Scheme)
	}

	p.proto = "http"
	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"
	return nil
}
