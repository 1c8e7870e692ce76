package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const dashboardGridWidth = 24

// LogRetentionDays keeps production logs for a month and everything else for
// a week.
func LogRetentionDays(environment string) int {
	if environment == "prod" {
		return 30
	}
	return 7
}

func containerLogGroupName(namer Namer) string {
	return "/ecs/" + namer.Name("app")
}

// Widget is one metric panel of a dashboard. Each metric row follows the
// CloudWatch shorthand: the first row names namespace, metric and dimensions,
// later rows may use "." to repeat the value above.
type Widget struct {
	Title   string
	Metrics [][]interface{}
	Stat    string
	Period  int
	X, Y    int
	Width   int
	Height  int
}

func validateWidgets(widgets []Widget) error {
	if len(widgets) == 0 {
		return errors.New("dashboard has no widgets")
	}
	for i, w := range widgets {
		if w.Title == "" {
			return fmt.Errorf("widget %d: missing title", i)
		}
		if len(w.Metrics) == 0 {
			return fmt.Errorf("widget %q: no metrics", w.Title)
		}
		for _, row := range w.Metrics {
			if len(row) < 2 {
				return fmt.Errorf("widget %q: metric row needs a namespace and a name", w.Title)
			}
		}
		if w.Width < 1 || w.Height < 1 {
			return fmt.Errorf("widget %q: size %dx%d", w.Title, w.Width, w.Height)
		}
		if w.X < 0 || w.Y < 0 || w.X+w.Width > dashboardGridWidth {
			return fmt.Errorf("widget %q: position (%d,%d) outside the %d column grid", w.Title, w.X, w.Y, dashboardGridWidth)
		}
	}
	return nil
}

func dashboardBody(region string, widgets []Widget) map[string]interface{} {
	out := make([]interface{}, 0, len(widgets))
	for _, w := range widgets {
		stat := w.Stat
		if stat == "" {
			stat = "Average"
		}
		period := w.Period
		if period == 0 {
			period = 300
		}
		out = append(out, map[string]interface{}{
			"type":   "metric",
			"x":      w.X,
			"y":      w.Y,
			"width":  w.Width,
			"height": w.Height,
			"properties": map[string]interface{}{
				"metrics": w.Metrics,
				"view":    "timeSeries",
				"stacked": false,
				"period":  period,
				"stat":    stat,
				"region":  region,
				"title":   w.Title,
			},
		})
	}
	return map[string]interface{}{"widgets": out}
}

type Dashboard struct {
	dashboard *cloudwatch.Dashboard

	Name pulumi.StringOutput
	URL  pulumi.StringOutput
}

func NewDashboard(ctx *pulumi.Context, namer Namer, region string, widgets []Widget) (*Dashboard, error) {
	if err := validateWidgets(widgets); err != nil {
		return nil, err
	}
	d := &Dashboard{}
	var err error
	d.dashboard, err = cloudwatch.NewDashboard(ctx, namer.Name("dashboard"), &cloudwatch.DashboardArgs{
		DashboardName: pulumi.String(namer.Name("metrics")),
		DashboardBody: pulumi.JSONMarshal(dashboardBody(region, widgets)),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating dashboard: %w", err)
	}
	d.Name = d.dashboard.DashboardName
	d.URL = pulumi.Sprintf("https://%s.console.aws.amazon.com/cloudwatch/home?region=%s#dashboards:name=%s",
		region, region, d.dashboard.DashboardName)
	return d, nil
}

func lambdaWidgets(functionName pulumi.StringOutput) []Widget {
	return []Widget{
		{
			Title: "Lambda Function Metrics",
			Metrics: [][]interface{}{
				{"AWS/Lambda", "Invocations", "FunctionName", functionName},
				{".", "Errors", ".", "."},
				{".", "Duration", ".", "."},
			},
			Width:  12,
			Height: 6,
		},
		{
			Title: "Lambda Concurrency",
			Metrics: [][]interface{}{
				{"AWS/Lambda", "ConcurrentExecutions", "FunctionName", functionName},
				{".", "Throttles", ".", "."},
			},
			Stat:   "Maximum",
			X:      12,
			Width:  12,
			Height: 6,
		},
	}
}

func ecsWidgets(clusterName, serviceName pulumi.StringOutput) []Widget {
	return []Widget{
		{
			Title: "ECS Service Metrics",
			Metrics: [][]interface{}{
				{"AWS/ECS", "CPUUtilization", "ServiceName", serviceName, "ClusterName", clusterName},
				{".", "MemoryUtilization", ".", ".", ".", "."},
			},
			Width:  12,
			Height: 6,
		},
	}
}

func albWidgets(arnSuffix pulumi.StringOutput) []Widget {
	return []Widget{
		{
			Title: "Load Balancer Metrics",
			Metrics: [][]interface{}{
				{"AWS/ApplicationELB", "RequestCount", "LoadBalancer", arnSuffix},
				{".", "TargetResponseTime", ".", "."},
			},
			Stat:   "Sum",
			Y:      6,
			Width:  12,
			Height: 6,
		},
	}
}

func logStreamURL(region string, logGroupName pulumi.StringOutput) pulumi.StringOutput {
	return logGroupName.ApplyT(func(name string) string {
		return fmt.Sprintf("https://console.aws.amazon.com/cloudwatch/home?region=%s#logsV2:log-groups/log-group/%s",
			region, url.QueryEscape(name))
	}).(pulumi.StringOutput)
}
