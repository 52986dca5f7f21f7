package version

// Version is the semantic version of ansible-vmmanager.
const Version = "0.1.0"
