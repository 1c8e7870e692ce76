package main

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecr"
	"github.com/pulumi/pulumi-docker/sdk/v4/go/docker"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

type ContainerImageArgs struct {
	// Context is the docker build context.
	Context    string
	Dockerfile string
	// SourcePaths feed the image tag; an unchanged tree keeps the same tag.
	SourcePaths []string
	RetainCount int
	ForceDelete bool
}

type ContainerImage struct {
	repo  *ecr.Repository
	image *docker.Image

	RepositoryURL pulumi.StringOutput
	ImageRef      pulumi.StringOutput
}

func NewContainerImage(ctx *pulumi.Context, namer Namer, args ContainerImageArgs) (*ContainerImage, error) {
	ecrImage := &ContainerImage{}
	if args.Context == "" {
		args.Context = "."
	}
	if args.Dockerfile == "" {
		args.Dockerfile = "app/Dockerfile"
	}
	if args.RetainCount < 1 {
		return nil, fmt.Errorf("image retain count must be positive, got %d", args.RetainCount)
	}

	tag := "latest"
	if len(args.SourcePaths) > 0 {
		sum, err := hashPaths(args.SourcePaths...)
		if err != nil {
			return nil, fmt.Errorf("Error hashing image sources: %w", err)
		}
		tag = sum[:12]
	}

	repo, err := ecr.NewRepository(ctx, namer.Name("ecr"), &ecr.RepositoryArgs{
		Name:               pulumi.String(namer.Name("app")),
		ForceDelete:        pulumi.Bool(args.ForceDelete),
		ImageTagMutability: pulumi.String("MUTABLE"),
		ImageScanningConfiguration: &ecr.RepositoryImageScanningConfigurationArgs{
			ScanOnPush: pulumi.Bool(true),
		},
		EncryptionConfigurations: ecr.RepositoryEncryptionConfigurationArray{
			ecr.RepositoryEncryptionConfigurationArgs{
				EncryptionType: pulumi.String("AES256"),
			},
		},
		Tags: namer.Tags("ecr", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating repo: %w", err)
	}
	ecrImage.repo = repo

	policy, err := lifecyclePolicy(args.RetainCount)
	if err != nil {
		return nil, fmt.Errorf("Error encoding lifecycle policy: %w", err)
	}
	_, err = ecr.NewLifecyclePolicy(ctx, namer.Name("ecr-lifecycle"), &ecr.LifecyclePolicyArgs{
		Repository: repo.Name,
		Policy:     pulumi.String(policy),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating lifecycle policy: %w", err)
	}

	authToken := ecr.GetAuthorizationTokenOutput(ctx, ecr.GetAuthorizationTokenOutputArgs{
		RegistryId: repo.RegistryId,
	})
	ecrImage.image, err = docker.NewImage(ctx, namer.Name("image"), &docker.ImageArgs{
		Registry: docker.RegistryArgs{
			Username: authToken.UserName(),
			Password: pulumi.ToSecret(authToken.ApplyT(func(authToken ecr.GetAuthorizationTokenResult) (*string, error) {
				return &authToken.Password, nil
			})).(pulumi.StringPtrOutput),
		},
		Build: docker.DockerBuildArgs{
			Platform:   pulumi.String("linux/arm64"),
			Context:    pulumi.String(args.Context),
			Dockerfile: pulumi.String(args.Dockerfile),
		},
		ImageName: repo.RepositoryUrl.ApplyT(func(url string) string {
			return fmt.Sprintf("%s:%s", url, tag)
		}).(pulumi.StringOutput),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating image: %w", err)
	}
	ecrImage.RepositoryURL = repo.RepositoryUrl
	ecrImage.ImageRef = ecrImage.image.RepoDigest

	return ecrImage, nil
}

// lifecyclePolicy expires all but the newest keep images.
func lifecyclePolicy(keep int) (string, error) {
	policy, err := json.Marshal(map[string]interface{}{
		"rules": []interface{}{
			map[string]interface{}{
				"rulePriority": 1,
				"description":  fmt.Sprintf("Keep last %d images", keep),
				"selection": map[string]interface{}{
					"tagStatus":   "any",
					"countType":   "imageCountMoreThan",
					"countNumber": keep,
				},
				"action": map[string]interface{}{
					"type": "expire",
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(policy), nil
}
