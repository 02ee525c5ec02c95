package auth

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// SignUpRequest is a provider-side account creation.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
	// WithSecretHash attaches the client secret hash to the call.
	WithSecretHash bool
}

// SignUpResult is what the provider reports for a new account.
type SignUpResult struct {
	UserSub   string
	Confirmed bool
}

// SignUpProvider owns user credentials and email confirmation.
type SignUpProvider interface {
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error)
	ConfirmSignUp(ctx context.Context, email, code string) error
	ResendConfirmationCode(ctx context.Context, email string) error
	HasSecret() bool
}

// CognitoAPI is the part of the Cognito user pool client used here.
type CognitoAPI interface {
	SignUp(ctx context.Context, in *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, in *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
}

// CognitoSignUp implements SignUpProvider against a user pool app client.
type CognitoSignUp struct {
	api CognitoAPI
	cfg Config
}

func NewCognitoSignUp(api CognitoAPI, cfg Config) *CognitoSignUp {
	return &CognitoSignUp{api: api, cfg: cfg}
}

func (c *CognitoSignUp) HasSecret() bool { return c.cfg.ClientSecret.IsSet() }

// secretHash returns nil when no secret is configured so the field is
// omitted from the request.
func (c *CognitoSignUp) secretHash(username string) (*string, error) {
	if !c.HasSecret() {
		return nil, nil
	}
	h, err := c.cfg.ClientSecret.secretHashFor(username, c.cfg.ClientID)
	if err != nil {
		return nil, err
	}
	return aws.String(h), nil
}

func (c *CognitoSignUp) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	in := &cip.SignUpInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(req.Email),
		Password: aws.String(req.Password),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(req.Email)},
			{Name: aws.String("name"), Value: aws.String(req.Name)},
		},
	}
	if req.WithSecretHash {
		h, err := c.secretHash(req.Email)
		if err != nil {
			return nil, err
		}
		in.SecretHash = h
	}
	out, err := c.api.SignUp(ctx, in)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{UserSub: aws.ToString(out.UserSub), Confirmed: out.UserConfirmed}, nil
}

func (c *CognitoSignUp) ConfirmSignUp(ctx context.Context, email, code string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	h, err := c.secretHash(email)
	if err != nil {
		return err
	}
	_, err = c.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(c.cfg.ClientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
		SecretHash:       h,
	})
	return err
}

func (c *CognitoSignUp) ResendConfirmationCode(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	h, err := c.secretHash(email)
	if err != nil {
		return err
	}
	_, err = c.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(c.cfg.ClientID),
		Username:   aws.String(email),
		SecretHash: h,
	})
	return err
}
