// Package directory resolves assignees against an Amazon Cognito user pool.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/logger"
	"taskflow/internal/models/user"
	repo "taskflow/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pageSize         = 60
	groupLookupLimit = 8
)

// API is the part of the Cognito client the directory calls.
type API interface {
	AdminGetUser(ctx context.Context, params *cip.AdminGetUserInput, optFns ...func(*cip.Options)) (*cip.AdminGetUserOutput, error)
	ListUsers(ctx context.Context, params *cip.ListUsersInput, optFns ...func(*cip.Options)) (*cip.ListUsersOutput, error)
	AdminListGroupsForUser(ctx context.Context, params *cip.AdminListGroupsForUserInput, optFns ...func(*cip.Options)) (*cip.AdminListGroupsForUserOutput, error)
}

type Cognito struct {
	client     API
	userPoolID string
}

func NewCognito(client API, userPoolID string) *Cognito {
	return &Cognito{client: client, userPoolID: userPoolID}
}

// LookupUser resolves a user by email, which is the pool's username.
func (c *Cognito) LookupUser(ctx context.Context, email string) (*user.User, error) {
	out, err := c.client.AdminGetUser(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(c.userPoolID),
		Username:   aws.String(email),
	})
	if err != nil {
		var notFound *types.UserNotFoundException
		if errors.As(err, &notFound) {
			logger.Info("Directory: user not found", zap.String("email", email))
			return nil, repo.ErrNotFound
		}
		logger.Error("Directory: admin get user", err, zap.String("email", email))
		return nil, fmt.Errorf("admin get user: %w", err)
	}

	u := fromAttributes(aws.ToString(out.Username), out.UserAttributes)
	u.Enabled = out.Enabled
	u.Status = string(out.UserStatus)
	if out.UserCreateDate != nil {
		u.CreatedAt = out.UserCreateDate.UTC()
	}
	if u.Email == "" {
		u.Email = strings.ToLower(email)
	}
	if u.Subject == "" {
		return nil, fmt.Errorf("admin get user: user %s has no sub attribute", email)
	}
	return u, nil
}

// ListUsers pages through the pool and attaches each user's groups. Users whose
// groups cannot be read are left out.
func (c *Cognito) ListUsers(ctx context.Context) ([]*user.User, error) {
	var (
		listed []types.UserType
		token  *string
	)
	for {
		out, err := c.client.ListUsers(ctx, &cip.ListUsersInput{
			UserPoolId:      aws.String(c.userPoolID),
			Limit:           aws.Int32(pageSize),
			PaginationToken: token,
		})
		if err != nil {
			logger.Error("Directory: list users", err)
			return nil, fmt.Errorf("list users: %w", err)
		}
		listed = append(listed, out.Users...)
		if out.PaginationToken == nil || aws.ToString(out.PaginationToken) == "" {
			break
		}
		token = out.PaginationToken
	}

	users := make([]*user.User, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(groupLookupLimit)
	for i, entry := range listed {
		g.Go(func() error {
			username := aws.ToString(entry.Username)
			groups, err := c.client.AdminListGroupsForUser(gctx, &cip.AdminListGroupsForUserInput{
				UserPoolId: aws.String(c.userPoolID),
				Username:   entry.Username,
			})
			if err != nil {
				logger.Error("Directory: list groups for user", err, zap.String("username", username))
				return nil
			}

			u := fromAttributes(username, entry.Attributes)
			u.Enabled = entry.Enabled
			u.Status = string(entry.UserStatus)
			if entry.UserCreateDate != nil {
				u.CreatedAt = entry.UserCreateDate.UTC()
			}
			for _, grp := range groups.Groups {
				u.Groups = append(u.Groups, aws.ToString(grp.GroupName))
			}

			users[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make([]*user.User, 0, len(users))
	for _, u := range users {
		if u != nil {
			res = append(res, u)
		}
	}
	return res, nil
}

func fromAttributes(username string, attrs []types.AttributeType) *user.User {
	u := &user.User{Username: username, Groups: []string{}}
	for _, attr := range attrs {
		switch aws.ToString(attr.Name) {
		case "sub":
			u.Subject = aws.ToString(attr.Value)
		case "email":
			u.Email = strings.ToLower(aws.ToString(attr.Value))
		case "name":
			u.Name = aws.ToString(attr.Value)
		}
	}
	if u.Name == "" {
		u.Name, _, _ = strings.Cut(u.Email, "@")
	}
	return u
}
