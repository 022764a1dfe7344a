// Copyright (C) 2025-2026 SolsticeHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.opentelemetry.io/otel/trace"
)

type SNSClient struct {
	Client *sns.Client
	Tracer trace.Tracer
}

type snsConfig struct {
	RoleARN string
	Region  string
}

// SNSOption is a functional option for GetSNS.
type SNSOption func(*snsConfig)

// WithSNSRole sets the IAM Role ARN to assume (empty = no assume).
func WithSNSRole(roleARN string) SNSOption {
	return func(c *snsConfig) {
		c.RoleARN = roleARN
	}
}

// WithSNSRegion overrides the AWS region for this call.
func WithSNSRegion(region string) SNSOption {
	return func(c *snsConfig) {
		c.Region = region
	}
}

func (m *Manager) GetSNS(ctx context.Context, opts ...SNSOption) (*SNSClient, error) {
	sc := snsConfig{
		Region: m.baseCfg.Region,
	}
	for _, o := range opts {
		o(&sc)
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = sc.Region
	cfg.Credentials = m.providerFor(sc.Region, sc.RoleARN)

	return &SNSClient{Client: sns.NewFromConfig(cfg), Tracer: m.tracer}, nil
}
