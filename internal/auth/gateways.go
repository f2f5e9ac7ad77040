package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	deviceSecretLength = 32
	maxSerialLength    = 64
)

// RegisterGateway registers a gateway device. When secret is empty one is
// generated. The plaintext secret is returned once; only its hash is stored.
func (s *Service) RegisterGateway(ctx context.Context, serial, secret string) (*GatewayDevice, string, error) {
	serial = strings.TrimSpace(serial)
	if err := validateSerial(serial); err != nil {
		return nil, "", err
	}

	secret, secretHash, err := s.deviceSecret(secret)
	if err != nil {
		return nil, "", err
	}

	device := &GatewayDevice{
		SerialNumber: serial,
		SecretHash:   secretHash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.gateways.Create(ctx, device); err != nil {
		if errors.Is(err, ErrSerialExists) {
			return nil, "", BadRequest("Gateway device with the given serial number already exists.")
		}
		return nil, "", err
	}

	s.logger.Info("gateway registered", "gateway_id", device.ID, "serial_number", serial)
	return device, secret, nil
}

// ReplaceGateway swaps the hardware behind a gateway record. An unchanged
// serial number is a no-op and returns an empty secret. A new serial
// requires a new secret, generated when secret is empty.
func (s *Service) ReplaceGateway(ctx context.Context, id int64, serial, secret string) (*GatewayDevice, string, error) {
	serial = strings.TrimSpace(serial)
	if err := validateSerial(serial); err != nil {
		return nil, "", err
	}

	current, err := s.GetGateway(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if current.SerialNumber == serial {
		return current, "", nil
	}
	if secret != "" && s.hasher.Verify(secret, current.SecretHash) {
		return nil, "", BadRequest("When updating serial number of a device, the secret must be updated.")
	}

	secret, secretHash, err := s.deviceSecret(secret)
	if err != nil {
		return nil, "", err
	}
	if err := s.gateways.Replace(ctx, id, serial, secretHash); err != nil {
		switch {
		case errors.Is(err, ErrSerialExists):
			return nil, "", BadRequest("Gateway device with the given serial number already exists.")
		case errors.Is(err, ErrGatewayNotFound):
			return nil, "", gatewayNotFound()
		}
		return nil, "", err
	}

	s.logger.Info("gateway replaced", "gateway_id", id, "serial_number", serial)
	device, err := s.GetGateway(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return device, secret, nil
}

// RemoveGateway deletes a gateway. Its outstanding access tokens stop
// working at the next connection record.
func (s *Service) RemoveGateway(ctx context.Context, id int64) error {
	if err := s.gateways.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			return gatewayNotFound()
		}
		return err
	}
	s.logger.Info("gateway removed", "gateway_id", id)
	return nil
}

// ListGateways returns every registered gateway.
func (s *Service) ListGateways(ctx context.Context) ([]GatewayDevice, error) {
	return s.gateways.List(ctx)
}

// GetGateway returns one gateway.
func (s *Service) GetGateway(ctx context.Context, id int64) (*GatewayDevice, error) {
	d, err := s.gateways.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrGatewayNotFound) {
			return nil, gatewayNotFound()
		}
		return nil, err
	}
	return d, nil
}

// RecordGatewayConnection stamps last_connected for an authenticated
// gateway. A token for a gateway that no longer exists is unauthenticated.
func (s *Service) RecordGatewayConnection(ctx context.Context, id int64) (time.Time, error) {
	at := s.now().UTC()
	ok, err := s.gateways.UpdateLastConnected(ctx, id, at)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, ErrUnauthenticated
	}
	return at, nil
}

func (s *Service) deviceSecret(secret string) (plain, hash string, err error) {
	if secret == "" {
		secret, err = randomCode(deviceSecretLength)
		if err != nil {
			return "", "", err
		}
	}
	hash, err = s.hasher.Hash(secret)
	if err != nil {
		return "", "", fmt.Errorf("hashing device secret: %w", err)
	}
	return secret, hash, nil
}

func validateSerial(serial string) error {
	if serial == "" || len(serial) > maxSerialLength {
		return InvalidData(fmt.Sprintf("serial_number must be between 1 and %d characters", maxSerialLength))
	}
	return nil
}

func gatewayNotFound() error {
	return NotFound("gateway_device", "Gateway device does not exist.")
}
