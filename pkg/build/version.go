package build

// Version is the release version of the node. It is overwritten at link time
// with -ldflags "-X github.com/storacha/poe/pkg/build.Version=vX.Y.Z".
var Version = "v0.0.0-dev"
